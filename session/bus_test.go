package session

import "testing"

func TestBusDeliversToMultipleSubscribers(t *testing.T) {
	b := NewBus()
	chA, idA := b.Subscribe()
	chB, idB := b.Subscribe()
	defer b.Unsubscribe(idA)
	defer b.Unsubscribe(idB)

	b.Publish(logEvent("info", "hello"))

	for _, ch := range []<-chan Event{chA, chB} {
		select {
		case ev := <-ch:
			if ev.Message != "hello" {
				t.Fatalf("message = %q, want hello", ev.Message)
			}
		default:
			t.Fatalf("expected an event to be queued")
		}
	}
}

func TestBusDropsOldestOnLaggingSubscriber(t *testing.T) {
	b := NewBus()
	ch, id := b.Subscribe()
	defer b.Unsubscribe(id)

	for i := 0; i < busQueueSize+10; i++ {
		b.Publish(logEvent("info", "burst"))
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count > busQueueSize {
				t.Fatalf("queue held %d events, want at most %d", count, busQueueSize)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, id := b.Subscribe()
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after Unsubscribe")
	}
}
