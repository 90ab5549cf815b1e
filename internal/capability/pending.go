package capability

import (
	"fmt"
	"sync"

	"github.com/roach88/verdict/internal/envelope"
)

// slot is one row of the pending table. done is closed exactly once, when a
// response is bound; after that env is immutable.
type slot struct {
	dispatched bool
	target     string
	done       chan struct{}
	bound      bool
	env        envelope.Envelope
}

// pendingTable maps handles to slots. A slot can exist before its handle is
// dispatched when a caller awaits a handle that has not been minted yet.
// Handles are never reused, so taken remembers every consumed handle.
type pendingTable struct {
	mu    sync.Mutex
	slots map[Handle]*slot
	taken map[Handle]struct{}
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[Handle]*slot), taken: make(map[Handle]struct{})}
}

// slotLocked returns the slot for h, creating a placeholder if needed.
func (t *pendingTable) slotLocked(h Handle) *slot {
	s, ok := t.slots[h]
	if !ok {
		s = &slot{done: make(chan struct{})}
		t.slots[h] = s
	}
	return s
}

func (t *pendingTable) dispatch(h Handle, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slotLocked(h)
	s.dispatched = true
	s.target = target
}

// bind records env for h. It returns false if h was already bound.
func (t *pendingTable) bind(h Handle, env envelope.Envelope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slotLocked(h)
	if s.bound {
		return false
	}
	s.env = env
	s.bound = true
	close(s.done)
	return true
}

// watch returns the done channels for hs, registering placeholders for
// handles not seen yet. It fails if a handle was already taken.
func (t *pendingTable) watch(hs []Handle) ([]<-chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range hs {
		if _, ok := t.taken[h]; ok {
			return nil, fmt.Errorf("%w: %d", ErrHandleConsumed, h)
		}
	}
	out := make([]<-chan struct{}, len(hs))
	for i, h := range hs {
		out[i] = t.slotLocked(h).done
	}
	return out, nil
}

// take removes hs and returns their envelopes. If any handle is unbound or
// was already taken by another caller, nothing is removed and
// ErrHandleConsumed is returned.
func (t *pendingTable) take(hs []Handle) (map[Handle]envelope.Envelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range hs {
		if s, ok := t.slots[h]; !ok || !s.bound {
			return nil, fmt.Errorf("%w: %d", ErrHandleConsumed, h)
		}
	}
	out := make(map[Handle]envelope.Envelope, len(hs))
	for _, h := range hs {
		out[h] = t.slots[h].env
		delete(t.slots, h)
		t.taken[h] = struct{}{}
	}
	return out, nil
}

// statuses snapshots the state of hs. Placeholders created only by the
// waiting caller are dropped again so they do not linger.
func (t *pendingTable) statuses(hs []Handle) map[Handle]HandleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Handle]HandleStatus, len(hs))
	for _, h := range hs {
		s, ok := t.slots[h]
		switch {
		case !ok || (!s.dispatched && !s.bound):
			out[h] = NeverDispatched
			delete(t.slots, h)
		case s.bound:
			out[h] = Replied
		default:
			out[h] = Dispatched
		}
	}
	return out
}

// outstanding counts dispatched handles that have not been consumed.
func (t *pendingTable) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.dispatched {
			n++
		}
	}
	return n
}
