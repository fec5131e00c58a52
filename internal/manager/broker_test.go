package manager

import "testing"

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()

	ch, unsub := b.Subscribe("w1")
	defer unsub()

	b.Publish("w1", "stdout", "line one")
	b.Publish("w1", "capture", "line two")
	b.Publish("w2", "stdout", "other worker")

	ev := <-ch
	if ev.Line != "line one" || ev.Source != "stdout" || ev.Seq != 0 {
		t.Errorf("first event = %+v, want line one/stdout/seq 0", ev)
	}
	if ev.WorkerID != "w1" {
		t.Errorf("worker id = %s, want w1", ev.WorkerID)
	}

	ev = <-ch
	if ev.Line != "line two" || ev.Source != "capture" || ev.Seq != 1 {
		t.Errorf("second event = %+v, want line two/capture/seq 1", ev)
	}

	select {
	case ev := <-ch:
		t.Errorf("received event for a different worker: %+v", ev)
	default:
	}
}

func TestBrokerSequencePerWorker(t *testing.T) {
	b := NewBroker()

	ch1, unsub1 := b.Subscribe("w1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("w2")
	defer unsub2()

	b.Publish("w1", "stdout", "a")
	b.Publish("w1", "stdout", "b")
	b.Publish("w2", "exec", "c")

	<-ch1
	if ev := <-ch1; ev.Seq != 1 {
		t.Errorf("w1 second event seq = %d, want 1", ev.Seq)
	}
	// w2's counter is independent of w1's.
	if ev := <-ch2; ev.Seq != 0 {
		t.Errorf("w2 first event seq = %d, want 0", ev.Seq)
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()

	ch, unsub := b.Subscribe("w1")
	unsub()

	b.Publish("w1", "stdout", "after unsubscribe")
	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("received event after unsubscribe: %+v", ev)
		}
	default:
	}
}

func TestBrokerCloseEndsSubscribers(t *testing.T) {
	b := NewBroker()

	ch, unsub := b.Subscribe("w1")
	defer unsub()

	b.Publish("w1", "stdout", "last line")
	b.Close("w1")

	if ev := <-ch; ev.Line != "last line" {
		t.Errorf("expected buffered event before close, got %+v", ev)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
}

func TestBrokerSubscribeAfterClose(t *testing.T) {
	b := NewBroker()
	b.Close("w1")

	ch, unsub := b.Subscribe("w1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("subscribing to a closed stream must return a closed channel")
	}
}

func TestBrokerSlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroker()

	ch, unsub := b.Subscribe("w1")
	defer unsub()

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish("w1", "stdout", "line")
	}

	// Publishing never blocked; the buffer holds at most its capacity.
	if len(ch) != subscriberBufferSize {
		t.Errorf("expected %d buffered events, got %d", subscriberBufferSize, len(ch))
	}

	// Dropped events still consumed sequence numbers, so the gap is
	// visible to the subscriber.
	last := OutputEvent{Seq: -1}
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Seq != subscriberBufferSize-1 {
		t.Errorf("last buffered seq = %d, want %d", last.Seq, subscriberBufferSize-1)
	}
	ch2, unsub2 := b.Subscribe("w1")
	defer unsub2()
	b.Publish("w1", "stdout", "after drop")
	if ev := <-ch2; ev.Seq != subscriberBufferSize+10 {
		t.Errorf("seq after drops = %d, want %d", ev.Seq, subscriberBufferSize+10)
	}
}
