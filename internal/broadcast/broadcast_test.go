package broadcast

import "testing"

func TestNotifyReachesAllSubscribers(t *testing.T) {
	var b Broadcaster
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Notify()
	for i, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		default:
			t.Fatalf("subscriber %d missed the notification", i)
		}
	}
}

func TestNotifyCoalescesWithoutBlocking(t *testing.T) {
	var b Broadcaster
	ch, cancel := b.Subscribe()
	defer cancel()

	// A burst must neither block nor queue more than one signal.
	for i := 0; i < 10; i++ {
		b.Notify()
	}
	<-ch
	select {
	case <-ch:
		t.Fatalf("expected the burst to coalesce into one signal")
	default:
	}
}

func TestCancelledSubscriberIsDropped(t *testing.T) {
	var b Broadcaster
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	b.Notify()
	select {
	case <-ch:
		t.Fatalf("cancelled subscriber must not be notified")
	default:
	}
}
