package engine

// Subscription delivers one attempt's events in order. The channel is
// closed once the terminal transition was delivered; a reader that only
// ranges over Events sees a finite stream.
type Subscription struct {
	attempt string
	events  chan Event
}

func newSubscription(attempt string, buffer int) *Subscription {
	return &Subscription{attempt: attempt, events: make(chan Event, buffer)}
}

// AttemptID identifies the attempt this subscription observes.
func (s *Subscription) AttemptID() string { return s.attempt }

// Events is the attempt's ordered event stream.
func (s *Subscription) Events() <-chan Event { return s.events }

// push never blocks the pipeline: progress ticks drop when the buffer is
// full, transitions evict the oldest buffered event until they fit.
func (s *Subscription) push(ev Event) {
	if ev.Kind == EventProgress {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}

func (s *Subscription) close() { close(s.events) }
