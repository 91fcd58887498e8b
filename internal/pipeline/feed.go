package pipeline

import "sync"

// Event is a status change of the orchestrator.
type Event struct {
	RunID   string `json:"runId,omitempty"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

// Listener receives events synchronously, in publish order.
type Listener func(Event)

// Feed fans events out to listeners.
type Feed struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewFeed() *Feed {
	return &Feed{listeners: make(map[int]Listener)}
}

func (f *Feed) Subscribe(l Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *Feed) Publish(e Event) {
	f.mu.Lock()
	ls := make([]Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(e)
	}
}
