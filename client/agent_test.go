package client

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/mahudhurio/core/attendance"
	testutil "github.com/trezcool/mahudhurio/tests"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []attendance.Scan
	events []string
	err    error
}

func (c *fakeConn) Send(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	if scan, ok := data.(attendance.Scan); ok {
		c.sent = append(c.sent, scan)
	}
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func setupAgent(conn *fakeConn) *Agent {
	return NewAgent(conn, "cs101", "s1", "Amani", testutil.NewConfig(), testutil.Logger{})
}

func resultJSON(t *testing.T, message string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(attendance.ResultPayload{Message: message})
	if err != nil {
		t.Fatalf("marshalling result: %v", err)
	}
	return b
}

func waitForState(t *testing.T, a *Agent, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", a.State(), want)
}

func TestAgent_HandleDecode(t *testing.T) {
	conn := &fakeConn{}
	a := setupAgent(conn)

	a.StartScanning()
	if a.State() != StateScanning {
		t.Fatalf("State() = %v, want %v", a.State(), StateScanning)
	}

	a.HandleDecode("tok")
	if a.State() != StateProcessing {
		t.Fatalf("State() = %v, want %v", a.State(), StateProcessing)
	}
	if conn.sentCount() != 1 {
		t.Fatalf("sent count = %d, want 1", conn.sentCount())
	}
	scan := conn.sent[0]
	if scan.ClassID != "cs101" || scan.StudentID != "s1" || scan.StudentName != "Amani" || scan.Token != "tok" {
		t.Errorf("sent scan = %+v", scan)
	}
	if conn.events[0] != attendance.EventMarkAttendance {
		t.Errorf("sent event = %q, want %q", conn.events[0], attendance.EventMarkAttendance)
	}

	// further decodes are ignored while processing
	a.HandleDecode("tok")
	a.HandleDecode("other")
	if conn.sentCount() != 1 {
		t.Errorf("sent count = %d after extra decodes, want 1", conn.sentCount())
	}

	// decode noise never forces a transition
	a.HandleDecodeError(errors.New("blurry frame"))
	if a.State() != StateProcessing {
		t.Errorf("State() = %v after decode error, want %v", a.State(), StateProcessing)
	}
}

func TestAgent_successFlow(t *testing.T) {
	conn := &fakeConn{}
	a := setupAgent(conn)

	var mu sync.Mutex
	var transitions []State
	a.SetStateFunc(func(state State, message string) {
		mu.Lock()
		transitions = append(transitions, state)
		mu.Unlock()
	})

	a.StartScanning()
	a.HandleDecode("tok")
	a.HandleEvent(attendance.EventSuccess, resultJSON(t, "Attendance marked successfully."))

	if a.State() != StateSuccess {
		t.Fatalf("State() = %v, want %v", a.State(), StateSuccess)
	}

	// the scan view auto-closes after the success delay
	waitForState(t, a, StateIdle)

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateScanning, StateProcessing, StateSuccess, StateIdle}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i, s := range want {
		if transitions[i] != s {
			t.Errorf("transitions[%d] = %v, want %v", i, transitions[i], s)
		}
	}
}

func TestAgent_errorFlow(t *testing.T) {
	conn := &fakeConn{}
	a := setupAgent(conn)

	a.StartScanning()
	a.HandleDecode("tok")

	var gotMsg string
	a.SetStateFunc(func(state State, message string) {
		if state == StateError {
			gotMsg = message
		}
	})
	a.HandleEvent(attendance.EventError, resultJSON(t, "Invalid or expired QR code."))

	if a.State() != StateError {
		t.Fatalf("State() = %v, want %v", a.State(), StateError)
	}
	if gotMsg != "Invalid or expired QR code." {
		t.Errorf("error message = %q", gotMsg)
	}

	// back to scannable after the error delay, then a retry goes through
	waitForState(t, a, StateIdle)
	a.HandleDecode("tok-2")
	if conn.sentCount() != 2 {
		t.Errorf("sent count = %d after retry, want 2", conn.sentCount())
	}
}

func TestAgent_staleEventsIgnored(t *testing.T) {
	conn := &fakeConn{}
	a := setupAgent(conn)

	// acks with no scan in flight are ignored
	a.HandleEvent(attendance.EventSuccess, resultJSON(t, "ok"))
	if a.State() != StateIdle {
		t.Errorf("State() = %v, want %v", a.State(), StateIdle)
	}

	a.StartScanning()
	a.HandleEvent(attendance.EventError, resultJSON(t, "nope"))
	if a.State() != StateScanning {
		t.Errorf("State() = %v, want %v", a.State(), StateScanning)
	}
}

func TestAgent_transportFailure(t *testing.T) {
	conn := &fakeConn{err: errors.New("connection reset")}
	a := setupAgent(conn)

	a.StartScanning()
	a.HandleDecode("tok")

	if a.State() != StateError {
		t.Fatalf("State() = %v, want %v", a.State(), StateError)
	}
	waitForState(t, a, StateIdle)
}

func TestAgent_Close(t *testing.T) {
	conn := &fakeConn{}
	a := setupAgent(conn)

	a.StartScanning()
	a.HandleDecode("tok")
	a.HandleEvent(attendance.EventSuccess, resultJSON(t, "ok"))
	a.Close()

	if a.State() != StateIdle {
		t.Errorf("State() = %v after Close(), want %v", a.State(), StateIdle)
	}
}
