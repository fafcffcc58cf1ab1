// Package client implements the scan agent side of the attendance protocol:
// the per-device state machine that turns a decoded QR token into exactly one
// mark_attendance event and reacts to the server's acknowledgement.
package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

type State int

const (
	StateIdle State = iota
	StateScanning
	StateProcessing
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Conn is the transport the agent emits scan events on.
type Conn interface {
	Send(event string, data interface{}) error
}

// Agent owns the local scan state. Once a decode is accepted it stays in
// processing until the server answers; further decodes are ignored until the
// agent is back in a scannable state. A stuck processing state is only
// resolved by the error timeout, never by the server.
type Agent struct {
	mu    sync.Mutex
	state State

	conn        Conn
	classID     string
	studentID   string
	studentName string

	successDelay time.Duration
	errorDelay   time.Duration
	timer        *time.Timer

	onState func(state State, message string) // optional UI hook
	logger  core.Logger
}

func NewAgent(conn Conn, classID, studentID, studentName string, conf *core.Config, logger core.Logger) *Agent {
	return &Agent{
		state:        StateIdle,
		conn:         conn,
		classID:      classID,
		studentID:    studentID,
		studentName:  studentName,
		successDelay: conf.Attendance.ScanSuccessDelay,
		errorDelay:   conf.Attendance.ScanErrorDelay,
		logger:       logger,
	}
}

// SetStateFunc installs a hook invoked on every state transition.
func (a *Agent) SetStateFunc(fn func(state State, message string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = fn
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// StartScanning opens the scan view.
func (a *Agent) StartScanning() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return
	}
	a.transition(StateScanning, "")
}

// HandleDecode processes a decoded token. Only the first decode in a
// scannable state emits a mark_attendance; everything else is ignored until
// the agent resets.
func (a *Agent) HandleDecode(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateIdle && a.state != StateScanning {
		return
	}
	a.transition(StateProcessing, "")

	scan := attendance.Scan{
		ClassID:     a.classID,
		StudentID:   a.studentID,
		StudentName: a.studentName,
		Token:       token,
	}
	if err := a.conn.Send(attendance.EventMarkAttendance, scan); err != nil {
		// transport failure: treat as a scan error so the user can retry
		a.logger.Error(fmt.Sprintf("sending mark_attendance: %v", err), err)
		a.fail("Connection error. Please try again.")
	}
}

// HandleDecodeError logs camera/decode noise without forcing a transition;
// minor noise must not block scanning.
func (a *Agent) HandleDecodeError(err error) {
	a.logger.Debug(fmt.Sprintf("decode error: %v", err))
}

// HandleEvent processes a server event addressed to this connection.
func (a *Agent) HandleEvent(event string, data json.RawMessage) {
	var res attendance.ResultPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			a.logger.Debug(fmt.Sprintf("discarding malformed %s payload: %v", event, err))
			return
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch event {
	case attendance.EventSuccess:
		if a.state != StateProcessing {
			return
		}
		a.transition(StateSuccess, res.Message)
		a.resetAfter(a.successDelay) // auto-close the scan view
	case attendance.EventError:
		if a.state != StateProcessing {
			return
		}
		a.fail(res.Message)
	}
}

// Close cancels any pending reset and returns the agent to idle.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.transition(StateIdle, "")
}

// fail must be called with a.mu held.
func (a *Agent) fail(message string) {
	a.transition(StateError, message)
	a.resetAfter(a.errorDelay)
}

// resetAfter schedules the return to idle; must be called with a.mu held.
func (a *Agent) resetAfter(delay time.Duration) {
	if a.timer != nil {
		a.timer.Stop()
	}
	from := a.state
	a.timer = time.AfterFunc(delay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.state != from {
			return // a newer transition won
		}
		a.transition(StateIdle, "")
	})
}

// transition must be called with a.mu held.
func (a *Agent) transition(to State, message string) {
	a.state = to
	if a.onState != nil {
		a.onState(to, message)
	}
}
