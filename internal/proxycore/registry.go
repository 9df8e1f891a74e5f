package proxycore

import (
	"sync"

	"github.com/sipcore/proxy/internal/sipstack"
)

// TransactionRegistry is the typed stand-in for the SIP stack's per-
// transaction user-data slot (SPEC_FULL §9, "stack-owned user slot"): a
// bidirectional map between stack-owned transaction handles and the
// engine-owned UASTsx/UACTsx objects bound to them.
type TransactionRegistry struct {
	mu       sync.RWMutex
	uasByTsx map[sipstack.BaseTransaction]*UASTsx
	uacByTsx map[sipstack.BaseTransaction]*UACTsx
}

// NewTransactionRegistry returns an empty registry.
func NewTransactionRegistry() *TransactionRegistry {
	return &TransactionRegistry{
		uasByTsx: make(map[sipstack.BaseTransaction]*UASTsx),
		uacByTsx: make(map[sipstack.BaseTransaction]*UACTsx),
	}
}

// BindUAS associates a stack server transaction with its UASTsx.
func (r *TransactionRegistry) BindUAS(tsx sipstack.ServerTransaction, uas *UASTsx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uasByTsx[tsx] = uas
}

// UnbindUAS removes the association, called once the stack transaction is destroyed.
func (r *TransactionRegistry) UnbindUAS(tsx sipstack.ServerTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.uasByTsx, tsx)
}

// LookupUAS returns the UASTsx bound to a stack server transaction, if any.
func (r *TransactionRegistry) LookupUAS(tsx sipstack.ServerTransaction) (*UASTsx, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.uasByTsx[tsx]
	return u, ok
}

// BindUAC associates a stack client transaction with its UACTsx.
func (r *TransactionRegistry) BindUAC(tsx sipstack.ClientTransaction, uac *UACTsx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uacByTsx[tsx] = uac
}

// UnbindUAC removes the association, called once the stack transaction is destroyed.
func (r *TransactionRegistry) UnbindUAC(tsx sipstack.ClientTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.uacByTsx, tsx)
}

// LookupUAC returns the UACTsx bound to a stack client transaction, if any.
func (r *TransactionRegistry) LookupUAC(tsx sipstack.ClientTransaction) (*UACTsx, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.uacByTsx[tsx]
	return u, ok
}
