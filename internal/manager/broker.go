package manager

import "sync"

// subscriberBufferSize is the channel buffer for each output subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// OutputEvent is one unit of worker output as delivered to stream
// subscribers. Source distinguishes where the line came from: terminal
// stdout chunks, container exec output, or debug pane captures. Seq is a
// per-worker monotonic counter, so a subscriber can detect lines it
// missed while lagging.
type OutputEvent struct {
	WorkerID string `json:"worker_id"`
	Source   string `json:"source"`
	Line     string `json:"line"`
	Seq      int    `json:"seq"`
}

// Broker fans worker output out to stream subscribers.
// It is safe for concurrent use.
//
// Closed streams are retained as markers so that late subscribers (those
// subscribing after a worker is closed) receive a closed channel instead
// of blocking forever.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*outputStream
}

type outputStream struct {
	subs    map[int]chan OutputEvent
	nextID  int
	nextSeq int
	closed  bool
}

// NewBroker creates a new output broker.
func NewBroker() *Broker {
	return &Broker{
		streams: make(map[string]*outputStream),
	}
}

// Subscribe returns a channel that receives output events for the given
// worker and an unsubscribe function. If the worker has already been
// closed, the returned channel is immediately closed.
func (b *Broker) Subscribe(workerID string) (<-chan OutputEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[workerID]
	if !ok {
		s = &outputStream{subs: make(map[int]chan OutputEvent)}
		b.streams[workerID] = s
	}

	ch := make(chan OutputEvent, subscriberBufferSize)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(s.subs, id)
	}
}

// Publish delivers one line from the given source to all subscribers of
// the worker, stamping it with the next sequence number. Events are
// dropped for subscribers whose buffers are full.
func (b *Broker) Publish(workerID, source, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[workerID]
	if !ok || s.closed {
		return
	}

	ev := OutputEvent{
		WorkerID: workerID,
		Source:   source,
		Line:     line,
		Seq:      s.nextSeq,
	}
	s.nextSeq++

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking execution.
		}
	}
}

// Close signals that no more output will be published for the given
// worker. All subscriber channels are closed and future Subscribe calls
// return a closed channel.
func (b *Broker) Close(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[workerID]
	if !ok {
		b.streams[workerID] = &outputStream{subs: make(map[int]chan OutputEvent), closed: true}
		return
	}

	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
