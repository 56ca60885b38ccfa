package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/tradecore/model"
)

// Accounts is the live account book. Each account has a gate: trading
// paths hold it shared, settlement holds it exclusively, so no open,
// close or fill runs for an account while it settles.
type Accounts struct {
	mu      sync.RWMutex
	entries map[string]*accountEntry
}

type accountEntry struct {
	gate sync.RWMutex
	mu   sync.Mutex
	acct model.Account
}

func NewAccounts(accts ...model.Account) *Accounts {
	a := &Accounts{entries: make(map[string]*accountEntry, len(accts))}
	for _, acct := range accts {
		a.Put(acct)
	}
	return a
}

// Put adds or replaces an account.
func (a *Accounts) Put(acct model.Account) {
	acct.Recompute()

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[acct.ID]; ok {
		e.mu.Lock()
		e.acct = acct
		e.mu.Unlock()
		return
	}
	a.entries[acct.ID] = &accountEntry{acct: acct}
}

func (a *Accounts) Get(id string) (model.Account, error) {
	e, err := a.entry(id)
	if err != nil {
		return model.Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct, nil
}

// IDs returns every account ID in sorted order.
func (a *Accounts) IDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.entries))
	for k := range a.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Update applies fn to the account under its field lock and refreshes
// Available. If fn fails the account is left unchanged.
func (a *Accounts) Update(id string, fn func(*model.Account) error) (model.Account, error) {
	e, err := a.entry(id)
	if err != nil {
		return model.Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.acct
	if err := fn(&next); err != nil {
		return e.acct, err
	}
	next.Recompute()
	e.acct = next
	return next, nil
}

// Share takes the account gate shared. Callers must call release.
func (a *Accounts) Share(id string) (release func(), err error) {
	e, err := a.entry(id)
	if err != nil {
		return nil, err
	}
	e.gate.RLock()
	return e.gate.RUnlock, nil
}

// Exclusive takes the account gate exclusively, waiting for in-flight
// trading calls on the account to finish.
func (a *Accounts) Exclusive(id string) (release func(), err error) {
	e, err := a.entry(id)
	if err != nil {
		return nil, err
	}
	e.gate.Lock()
	return e.gate.Unlock, nil
}

func (a *Accounts) entry(id string) (*accountEntry, error) {
	a.mu.RLock()
	e, ok := a.entries[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccount, id)
	}
	return e, nil
}
