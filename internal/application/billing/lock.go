package billing

import (
	"sync"

	"github.com/google/uuid"
)

// InvoiceLocks serializes mutating operations per invoice. A gateway
// charge and the ledger apply must not interleave for the same invoice:
// two concurrent submissions could both pass balance validation and
// both charge, with one of the applies then bouncing after money moved.
// Optimistic locking alone catches the conflict too late, after the
// charge. Locking is keyed so operations on different invoices still
// run in parallel. One instance is shared by every service that mutates
// invoices.
type InvoiceLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*invoiceLock
}

type invoiceLock struct {
	mu   sync.Mutex
	refs int
}

// NewInvoiceLocks creates an empty lock registry
func NewInvoiceLocks() *InvoiceLocks {
	return &InvoiceLocks{
		locks: make(map[uuid.UUID]*invoiceLock),
	}
}

// Lock acquires the per-invoice lock and returns its release function
func (l *InvoiceLocks) Lock(invoiceID uuid.UUID) func() {
	l.mu.Lock()
	lock, ok := l.locks[invoiceID]
	if !ok {
		lock = &invoiceLock{}
		l.locks[invoiceID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, invoiceID)
		}
		l.mu.Unlock()
	}
}
