package transfer

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/currency"
)

// EntryType distinguishes the two legs of a double-entry record.
type EntryType string

const (
	// EntryDebit marks an entry that reduces an account balance.
	EntryDebit EntryType = "DEBIT"
	// EntryCredit marks an entry that increases an account balance.
	EntryCredit EntryType = "CREDIT"
)

// EntryStatus is the lifecycle state of a ledger entry. Entries are written
// only once they are final, so APPLIED is the only persisted status.
type EntryStatus string

// EntryApplied is the terminal status of a persisted ledger entry.
const EntryApplied EntryStatus = "APPLIED"

// Account is a balance-carrying record under optimistic concurrency control.
// Balance is held in minor units of Currency. Version is bumped by the store
// on every successful save; a stale version at save time signals a conflict.
type Account struct {
	ID       string
	Balance  int64
	Currency string
	Version  int64
}

// Debit subtracts amount from the balance, refusing to go negative.
func (a *Account) Debit(amount int64) error {
	if amount > a.Balance {
		return &InsufficientFundsError{AccountID: a.ID, Balance: a.Balance, Amount: amount}
	}
	a.Balance -= amount
	return nil
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount int64) {
	a.Balance += amount
}

// LedgerEntry is one immutable leg of an applied transfer.
type LedgerEntry struct {
	ID            string
	AccountID     string
	EventID       string
	Currency      string
	Amount        int64
	BalanceAfter  int64
	Type          EntryType
	Status        EntryStatus
	OperationDate time.Time
	ProcessedAt   time.Time
}

// Leg is one side of a transfer: which account, in which currency, how much.
type Leg struct {
	AccountID string
	Currency  string
	Amount    int64
}

// Validate checks the leg is well formed before any account is touched.
func (l Leg) Validate() error {
	if l.AccountID == "" {
		return errors.New("transfer: leg account id required")
	}
	if l.Amount <= 0 {
		return fmt.Errorf("transfer: leg amount must be positive, got %d", l.Amount)
	}
	if _, err := currency.ParseISO(l.Currency); err != nil {
		return fmt.Errorf("transfer: leg currency %q is not a valid ISO code", l.Currency)
	}
	return nil
}

// Request describes one transfer event. EventID is the idempotency key; the
// same logical transfer always carries the same EventID across redeliveries.
type Request struct {
	EventID       string
	Source        Leg
	Destination   Leg
	OperationDate time.Time
}

// Validate checks both legs and the event identity.
func (r Request) Validate() error {
	if r.EventID == "" {
		return errors.New("transfer: event id required")
	}
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if err := r.Destination.Validate(); err != nil {
		return err
	}
	return nil
}

// Status is the terminal outcome classification for one event attempt.
type Status string

const (
	// StatusSuccess means this attempt applied the transfer.
	StatusSuccess Status = "SUCCESS"
	// StatusAlreadyProcessed means a prior attempt already applied it.
	StatusAlreadyProcessed Status = "ALREADY_PROCESSED"
	// StatusAlreadyProcessing means another worker currently owns the event.
	StatusAlreadyProcessing Status = "ALREADY_PROCESSING"
	// StatusFailed means the attempt ended with a terminal error.
	StatusFailed Status = "FAILED"
)

// Outcome is the per-event result returned to callers. Exactly one Outcome is
// produced per submitted Request.
type Outcome struct {
	EventID     string    `json:"event_id"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// SuccessOutcome reports an applied transfer.
func SuccessOutcome(eventID string) Outcome {
	return Outcome{EventID: eventID, Status: StatusSuccess, ProcessedAt: time.Now()}
}

// AlreadyProcessedOutcome reports a duplicate of a completed event.
func AlreadyProcessedOutcome(eventID string) Outcome {
	return Outcome{
		EventID:     eventID,
		Status:      StatusAlreadyProcessed,
		Message:     "event already processed",
		ProcessedAt: time.Now(),
	}
}

// AlreadyProcessingOutcome reports an event currently held by another worker.
func AlreadyProcessingOutcome(eventID string) Outcome {
	return Outcome{
		EventID:     eventID,
		Status:      StatusAlreadyProcessing,
		Message:     "event is being processed by another worker",
		ProcessedAt: time.Now(),
	}
}

// FailedOutcome reports a terminal failure with a human-readable reason.
func FailedOutcome(eventID, message string) Outcome {
	return Outcome{
		EventID:     eventID,
		Status:      StatusFailed,
		Message:     message,
		ProcessedAt: time.Now(),
	}
}

// BatchSummary aggregates the outcomes of one batch call.
type BatchSummary struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

// AccountNotFoundError identifies which account of a transfer was missing.
type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("transfer: account not found: %s", e.AccountID)
}

// CurrencyMismatchError reports a leg currency that disagrees with the
// account's stored currency.
type CurrencyMismatchError struct {
	AccountID string
	Want      string
	Got       string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("transfer: currency mismatch for account %s: expected %s, got %s",
		e.AccountID, e.Want, e.Got)
}

// InsufficientFundsError reports a debit that would drive a balance negative.
type InsufficientFundsError struct {
	AccountID string
	Balance   int64
	Amount    int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("transfer: insufficient funds on account %s: balance %d, debit %d",
		e.AccountID, e.Balance, e.Amount)
}

// ProcessingError is the terminal error raised when the retry budget is
// exhausted by optimistic conflicts. It wraps the last conflict.
type ProcessingError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("transfer: event %s failed after %d attempts: %v", e.EventID, e.Attempts, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// IsBusinessError reports whether err is a deterministic validation failure
// that must never be retried.
func IsBusinessError(err error) bool {
	var notFound *AccountNotFoundError
	var mismatch *CurrencyMismatchError
	var funds *InsufficientFundsError
	return errors.As(err, &notFound) || errors.As(err, &mismatch) || errors.As(err, &funds)
}
