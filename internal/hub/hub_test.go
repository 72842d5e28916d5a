package hub

import (
	"encoding/json"
	"testing"
)

type testWriter struct {
	writes   int
	fail     bool
	messages [][]byte
}

func (w *testWriter) Write(message []byte) error {
	w.writes++
	if w.fail {
		return errTest
	}
	w.messages = append(w.messages, message)
	return nil
}

func (w *testWriter) Close() error { return nil }

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "test" }

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	c1 := &Connection{ID: "c1", Writer: w1}

	h.Register(c1)
	h.Broadcast([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected 1 write, got %d", w1.writes)
	}

	h.Unregister(c1)
	h.Broadcast([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected no more writes, got %d", w1.writes)
	}
}

func TestHub_EmitWrapsEnvelope(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	h.Register(&Connection{ID: "c1", Writer: w1})

	h.Emit("connectivity", map[string]bool{"online": true})

	if len(w1.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w1.messages))
	}
	var env Envelope
	if err := json.Unmarshal(w1.messages[0], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "connectivity" {
		t.Fatalf("expected type connectivity, got %q", env.Type)
	}
	if env.At == 0 {
		t.Fatalf("expected a timestamp")
	}
}

func TestHub_EveryConnectionSeesEveryEvent(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	w2 := &testWriter{}
	h.Register(&Connection{ID: "c1", Writer: w1})
	h.Register(&Connection{ID: "c2", Writer: w2})

	h.Broadcast([]byte("x"))
	if w1.writes != 1 || w2.writes != 1 {
		t.Fatalf("expected both connections written, got %d and %d", w1.writes, w2.writes)
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New()
	w1 := &testWriter{fail: true}
	c1 := &Connection{ID: "c1", Writer: w1}
	h.Register(c1)

	h.Broadcast([]byte("x"))
	h.Broadcast([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.writes)
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected failed connection dropped")
	}
}
