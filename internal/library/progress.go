package library

import (
	"sync"

	"github.com/brogergvhs/noveld/internal/chapters"
)

// Progress is one event of a download batch. Counts cover the whole
// manifest; Pending includes chapters being fetched.
type Progress struct {
	BookID  string
	Done    int
	Pending int
	Failed  int
	Total   int
	State   State
	// Final marks the last event of a stream.
	Final bool
}

const subscriberBuffer = 32

// hub fans progress out to the subscribers of one batch. Publishing never
// blocks: a full subscriber loses its oldest event.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Progress
	next   int
	last   Progress
	closed bool
}

func newHub(initial Progress) *hub {
	return &hub{subs: map[int]chan Progress{}, last: initial}
}

// subscribe returns a stream that starts with the latest snapshot.
func (h *hub) subscribe() (<-chan Progress, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Progress, subscriberBuffer)
	ch <- h.last
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *hub) publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.last = p
	for _, ch := range h.subs {
		offer(ch, p)
	}
}

// close delivers the final event and ends every stream.
func (h *hub) close(final Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	final.Final = true
	h.last = final
	h.closed = true
	for id, ch := range h.subs {
		offer(ch, final)
		close(ch)
		delete(h.subs, id)
	}
}

func offer(ch chan Progress, p Progress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}

// tally counts a manifest for a progress event.
func tally(bookID string, state State, refs []chapters.Ref) Progress {
	p := Progress{BookID: bookID, State: state, Total: len(refs)}
	for _, r := range refs {
		switch r.State {
		case chapters.Done:
			p.Done++
		case chapters.Failed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	return p
}
