package ledger

// Op names a synchronizer operation.
type Op string

const (
	OpLoad   Op = "load"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Phase is where an operation stands when an Event is emitted.
type Phase string

const (
	// PhaseApplied: the optimistic change is visible locally, the remote call is in flight.
	PhaseApplied Phase = "applied"
	// PhaseCommitted: the store acknowledged the change.
	PhaseCommitted Phase = "committed"
	// PhaseFailed: the store rejected the change and local state was rolled back.
	PhaseFailed Phase = "failed"
)

const subscriberBuffer = 32

// Event reports a change of the local collection. Entries is the whole
// collection after the change. Message is set on failures and is meant for
// an error banner.
type Event struct {
	Op      Op      `json:"op"`
	Phase   Phase   `json:"phase"`
	EntryID string  `json:"entryId,omitempty"`
	Entries []Entry `json:"entries"`
	Err     error   `json:"-"`
	Message string  `json:"message,omitempty"`
}

// Subscribe returns a channel receiving every Event and a function that
// ends the subscription and closes the channel. A subscriber that falls
// behind misses events rather than blocking the synchronizer; the next
// event it does receive carries the full collection.
func (s *Synchronizer) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once bool
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of open subscriptions.
func (s *Synchronizer) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// emitLocked fans an event out to subscribers. s.mu must be held.
func (s *Synchronizer) emitLocked(ev Event) {
	if len(s.subs) == 0 {
		return
	}
	ev.Entries = s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Synchronizer) messageFor(op Op, err error) string {
	if err == nil {
		return ""
	}
	if isUnauthorized(err) {
		return s.messages.Unauthorized.Body
	}
	switch op {
	case OpLoad:
		return s.messages.LoadFailed.Body
	case OpCreate:
		return s.messages.CreateFailed.Body
	case OpUpdate:
		return s.messages.UpdateFailed.Body
	case OpDelete:
		return s.messages.DeleteFailed.Body
	}
	return err.Error()
}
