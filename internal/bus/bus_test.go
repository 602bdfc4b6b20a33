package bus

import (
	"encoding/json"
	"testing"
)

func TestSubscribePublish(t *testing.T) {
	b := New()

	var got []string
	b.Subscribe("update", func(args ...json.RawMessage) {
		got = append(got, string(args[0]))
	})

	b.Publish("update", json.RawMessage(`"one"`))
	b.Publish("update", json.RawMessage(`"two"`))
	b.Publish("other", json.RawMessage(`"ignored"`))

	if len(got) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(got))
	}
	if got[0] != `"one"` || got[1] != `"two"` {
		t.Errorf("got %v, want [\"one\" \"two\"] in order", got)
	}
}

func TestMultipleHandlers(t *testing.T) {
	b := New()

	calls := 0
	b.Subscribe("ev", func(...json.RawMessage) { calls++ })
	b.Subscribe("ev", func(...json.RawMessage) { calls++ })

	b.Publish("ev")

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDisposerRemovesHandler(t *testing.T) {
	b := New()

	calls := 0
	dispose := b.Subscribe("ev", func(...json.RawMessage) { calls++ })

	b.Publish("ev")
	dispose()
	b.Publish("ev")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := b.HandlerCount("ev"); n != 0 {
		t.Errorf("HandlerCount = %d, want 0", n)
	}
}

func TestDisposerIdempotent(t *testing.T) {
	b := New()

	dispose1 := b.Subscribe("ev", func(...json.RawMessage) {})
	calls := 0
	b.Subscribe("ev", func(...json.RawMessage) { calls++ })

	// Double-invocation must not remove the other handler.
	dispose1()
	dispose1()

	b.Publish("ev")
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOnce(t *testing.T) {
	b := New()

	calls := 0
	b.Once("ev", func(...json.RawMessage) { calls++ })

	b.Publish("ev")
	b.Publish("ev")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOnceDisposedBeforeDelivery(t *testing.T) {
	b := New()

	calls := 0
	dispose := b.Once("ev", func(...json.RawMessage) { calls++ })
	dispose()

	b.Publish("ev")

	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestPanicRecovery(t *testing.T) {
	b := New()

	var panicked []string
	b.OnPanic(func(event string, recovered any) {
		panicked = append(panicked, event)
	})

	calls := 0
	b.Subscribe("ev", func(...json.RawMessage) { panic("boom") })
	b.Subscribe("ev", func(...json.RawMessage) { calls++ })

	b.Publish("ev")

	if len(panicked) != 1 || panicked[0] != "ev" {
		t.Errorf("panic hook calls = %v, want one for \"ev\"", panicked)
	}
	if calls != 1 {
		t.Errorf("surviving handler calls = %d, want 1", calls)
	}
}

func TestSubscribeDuringPublish(t *testing.T) {
	b := New()

	calls := 0
	b.Subscribe("ev", func(...json.RawMessage) {
		// Registration from inside a handler takes effect on the next
		// publish, not the current one.
		b.Subscribe("ev", func(...json.RawMessage) { calls++ })
	})

	b.Publish("ev")
	if calls != 0 {
		t.Fatalf("calls after first publish = %d, want 0", calls)
	}

	b.Publish("ev")
	if calls != 1 {
		t.Errorf("calls after second publish = %d, want 1", calls)
	}
}
