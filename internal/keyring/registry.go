package keyring

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the O(1) bidirectional mapping between account ids, provider
// addresses and materialized accounts.
//
// Set with a new id for an already registered address overwrites the forward
// address->id mapping and leaves the old id dangling in the reverse direction.
// Callers own that hazard; it is not repaired here.
type Registry struct {
	mu          sync.RWMutex
	accounts    map[AccountID]*Account
	idToAddress map[AccountID]string
	addressToID map[string]AccountID
}

func NewRegistry() *Registry {
	return &Registry{
		accounts:    make(map[AccountID]*Account),
		idToAddress: make(map[AccountID]string),
		addressToID: make(map[string]AccountID),
	}
}

// Register returns the id of address, creating one if the address is new.
func (r *Registry) Register(address string) AccountID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.addressToID[address]; ok {
		return id
	}

	id := uuid.New().String()
	r.addressToID[address] = id
	r.idToAddress[id] = address

	return id
}

// Set stores the full account and refreshes both mappings for it.
func (r *Registry) Set(account *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts[account.ID] = account
	r.idToAddress[account.ID] = account.Address
	r.addressToID[account.Address] = account.ID
}

// CompareAndSet stores account only if the account currently stored under its
// id is old (nil meaning none). It returns the account stored afterwards, which
// is the concurrent winner when the swap did not happen.
func (r *Registry) CompareAndSet(old *Account, account *Account) *Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.accounts[account.ID]; ok && cur != old {
		return cur
	}

	r.accounts[account.ID] = account
	r.idToAddress[account.ID] = account.Address
	r.addressToID[account.Address] = account.ID

	return account
}

func (r *Registry) Get(id AccountID) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	return acc, ok
}

func (r *Registry) GetAddress(id AccountID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.idToAddress[id]
	return addr, ok
}

func (r *Registry) GetAccountID(address string) (AccountID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.addressToID[address]
	return id, ok
}

// Delete removes id in both directions. Unknown ids are ignored.
func (r *Registry) Delete(id AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr, ok := r.idToAddress[id]
	if ok {
		// only drop the forward mapping if it still points at this id
		if cur, found := r.addressToID[addr]; found && cur == id {
			delete(r.addressToID, addr)
		}
	}
	delete(r.idToAddress, id)
	delete(r.accounts, id)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = make(map[AccountID]*Account)
	r.idToAddress = make(map[AccountID]string)
	r.addressToID = make(map[string]AccountID)
}

// Values returns a snapshot of the materialized accounts in no particular order.
func (r *Registry) Values() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}

	return out
}

// Keys returns a snapshot of all known ids, including registered ids that are
// not materialized yet.
func (r *Registry) Keys() []AccountID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AccountID, 0, len(r.idToAddress))
	for id := range r.idToAddress {
		out = append(out, id)
	}

	return out
}

// Len is the number of known ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.idToAddress)
}
