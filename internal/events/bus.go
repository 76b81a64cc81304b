package events

import (
	"sync"
	"time"
)

// Bus delivers published events to every subscriber in publish order. Each
// subscriber has its own unbounded queue, so a slow consumer never blocks the
// publisher or other subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscription
	nextID  int
	history []Event
	closed  bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish stamps ev with the current time if unset and queues it for all
// subscribers. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for _, s := range b.subs {
		s.push(ev)
	}
}

// Subscribe returns a channel of events published from now on, preceded by the
// full history when replay is set. The returned cancel func detaches the
// subscriber and closes the channel.
func (b *Bus) Subscribe(replay bool) (<-chan Event, func()) {
	s := newSubscription()

	b.mu.Lock()
	if replay {
		for _, ev := range b.history {
			s.push(ev)
		}
	}
	if b.closed {
		s.finish()
		b.mu.Unlock()
		go s.run()
		return s.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.quit)
		})
	}
}

// History returns a copy of every event published so far.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}

// Close drains every subscriber's queue and then closes its channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.finish()
		delete(b.subs, id)
	}
}

type subscription struct {
	out  chan Event
	quit chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	finished bool
}

func newSubscription() *subscription {
	s := &subscription{
		out:  make(chan Event),
		quit: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscription) run() {
	stopped := make(chan struct{})
	defer close(s.out)
	defer close(stopped)

	// Wake the cond wait when the subscriber cancels.
	go func() {
		select {
		case <-s.quit:
		case <-stopped:
			return
		}
		s.mu.Lock()
		s.finished = true
		s.queue = nil
		s.mu.Unlock()
		s.cond.Signal()
	}()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.finished {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}

// Personal.AI order the ending
