package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountDebitCredit(t *testing.T) {
	account := &Account{ID: "acc-a", Balance: 100, Currency: "USD"}

	require.NoError(t, account.Debit(40))
	require.Equal(t, int64(60), account.Balance)

	account.Credit(15)
	require.Equal(t, int64(75), account.Balance)

	err := account.Debit(76)
	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	require.Equal(t, int64(75), account.Balance, "failed debit must not mutate")
}

func TestLegValidate(t *testing.T) {
	valid := Leg{AccountID: "acc-a", Currency: "USD", Amount: 100}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		leg  Leg
	}{
		{"missing account", Leg{Currency: "USD", Amount: 100}},
		{"zero amount", Leg{AccountID: "acc-a", Currency: "USD"}},
		{"negative amount", Leg{AccountID: "acc-a", Currency: "USD", Amount: -1}},
		{"bogus currency", Leg{AccountID: "acc-a", Currency: "XX", Amount: 100}},
		{"lowercase word", Leg{AccountID: "acc-a", Currency: "dollars", Amount: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.leg.Validate())
		})
	}
}

func TestOutcomeConstructors(t *testing.T) {
	success := SuccessOutcome("evt-1")
	require.Equal(t, StatusSuccess, success.Status)
	require.Empty(t, success.Message)
	require.False(t, success.ProcessedAt.IsZero())

	processed := AlreadyProcessedOutcome("evt-1")
	require.Equal(t, StatusAlreadyProcessed, processed.Status)
	require.NotEmpty(t, processed.Message)

	processing := AlreadyProcessingOutcome("evt-1")
	require.Equal(t, StatusAlreadyProcessing, processing.Status)

	failed := FailedOutcome("evt-1", "boom")
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "boom", failed.Message)
}
