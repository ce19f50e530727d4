package transfer

import (
	"context"
	"sync"
)

// memRepo is an in-memory Repository with real optimistic-versioning
// semantics: reads copy the committed account, commits re-check the version
// read against the committed version and bump it on success. Conflicts can
// also be injected to exercise the retry path deterministically.
type memRepo struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  []LedgerEntry

	forcedConflicts int
	txAttempts      int
	fetchOrder      []string
}

func newMemRepo(accounts ...*Account) *memRepo {
	r := &memRepo{accounts: make(map[string]*Account)}
	for _, a := range accounts {
		if a.Version == 0 {
			a.Version = 1
		}
		r.accounts[a.ID] = a
	}
	return r
}

type memTx struct {
	repo         *memRepo
	readVersions map[string]int64
	writes       []*Account
	entries      []*LedgerEntry
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	r.txAttempts++
	forced := r.forcedConflicts > 0
	if forced {
		r.forcedConflicts--
	}
	r.mu.Unlock()

	tx := &memTx{repo: r, readVersions: make(map[string]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if forced {
		return ErrVersionConflict
	}
	return tx.commit()
}

func (tx *memTx) FindAccount(ctx context.Context, id string) (*Account, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.fetchOrder = append(tx.repo.fetchOrder, id)
	account, ok := tx.repo.accounts[id]
	if !ok {
		return nil, &AccountNotFoundError{AccountID: id}
	}
	copied := *account
	tx.readVersions[id] = account.Version
	return &copied, nil
}

func (tx *memTx) SaveAccount(ctx context.Context, account *Account) error {
	copied := *account
	tx.writes = append(tx.writes, &copied)
	return nil
}

func (tx *memTx) AppendEntry(ctx context.Context, entry *LedgerEntry) error {
	copied := *entry
	tx.entries = append(tx.entries, &copied)
	return nil
}

func (tx *memTx) commit() error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, w := range tx.writes {
		current, ok := tx.repo.accounts[w.ID]
		if !ok || current.Version != tx.readVersions[w.ID] {
			return ErrVersionConflict
		}
	}
	for _, w := range tx.writes {
		w.Version = tx.repo.accounts[w.ID].Version + 1
		tx.repo.accounts[w.ID] = w
	}
	for _, e := range tx.entries {
		tx.repo.entries = append(tx.repo.entries, *e)
	}
	return nil
}

func (r *memRepo) CreateAccount(ctx context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.ID]; ok {
		return ErrAccountExists
	}
	copied := *account
	copied.Version = 1
	r.accounts[account.ID] = &copied
	account.Version = 1
	return nil
}

func (r *memRepo) GetAccount(ctx context.Context, id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, &AccountNotFoundError{AccountID: id}
	}
	copied := *account
	return &copied, nil
}

func (r *memRepo) ListEntries(ctx context.Context, accountID string) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) allEntries() []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *memRepo) balance(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id].Balance
}

func (r *memRepo) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txAttempts
}
