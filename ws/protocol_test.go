package ws

import (
	"encoding/json"
	"testing"

	"github.com/trezcool/mahudhurio/core/attendance"
	inmemdb "github.com/trezcool/mahudhurio/storage/database/inmem"
	testutil "github.com/trezcool/mahudhurio/tests"
)

func setupProtocol(t *testing.T) (*Protocol, *Hub) {
	t.Helper()

	hub := NewHub(testutil.Logger{})
	repo := inmemdb.NewAttendanceRepository(inmemdb.Open())
	validate, _ := testutil.NewValidator()
	svc := attendance.NewService(
		attendance.NewRegistry(0),
		repo,
		hub,
		nil, // no teacher email is set, summaries never fire
		testutil.NewConfig(),
		testutil.Logger{},
	)
	return NewProtocol(hub, svc, validate, testutil.Logger{}), hub
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshalling payload: %v", err)
	}
	return b
}

func drain(c *Client) []Envelope {
	var envs []Envelope
	for {
		select {
		case msg := <-c.send:
			var env Envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				envs = append(envs, env)
			}
		default:
			return envs
		}
	}
}

func resultMessage(t *testing.T, env Envelope) string {
	t.Helper()
	var res attendance.ResultPayload
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("unmarshalling result payload: %v", err)
	}
	return res.Message
}

func TestProtocol_joinLeave(t *testing.T) {
	p, hub := setupProtocol(t)
	c := newTestClient(hub, Identity{ID: "s1", IsStudent: true})

	p.Handle(c, Envelope{Event: attendance.EventJoinClass, Data: rawJSON(t, map[string]string{"class_id": "cs101"})})
	if n := hub.RoomLen("cs101"); n != 1 {
		t.Errorf("RoomLen(cs101) = %d after join, want 1", n)
	}

	p.Handle(c, Envelope{Event: attendance.EventLeaveClass, Data: rawJSON(t, map[string]string{"class_id": "cs101"})})
	if n := hub.RoomLen("cs101"); n != 0 {
		t.Errorf("RoomLen(cs101) = %d after leave, want 0", n)
	}

	// unknown events are ignored
	p.Handle(c, Envelope{Event: "lol"})
	if envs := drain(c); len(envs) != 0 {
		t.Errorf("got %d unexpected replies", len(envs))
	}
}

func TestProtocol_startStop(t *testing.T) {
	p, hub := setupProtocol(t)
	teacher := newTestClient(hub, Identity{ID: "t1", Name: "Mw. Zawadi", IsTeacher: true})
	student := newTestClient(hub, Identity{ID: "s1", IsStudent: true})
	hub.Join(teacher, "cs101")
	hub.Join(student, "cs101")

	// students cannot start attendance
	p.Handle(student, Envelope{Event: attendance.EventStartAttendance, Data: rawJSON(t, map[string]string{"class_id": "cs101", "token": "tok"})})
	envs := drain(student)
	if len(envs) != 1 || envs[0].Event != attendance.EventError {
		t.Fatalf("student start replies = %+v, want one %s", envs, attendance.EventError)
	}
	if msg := resultMessage(t, envs[0]); msg != msgTeacherOnly {
		t.Errorf("reply message = %q, want %q", msg, msgTeacherOnly)
	}
	if p.svc.IsTaking("cs101") {
		t.Error("IsTaking() = true after a student start attempt")
	}

	// teacher start notifies the room
	p.Handle(teacher, Envelope{Event: attendance.EventStartAttendance, Data: rawJSON(t, map[string]string{"class_id": "cs101", "token": "tok"})})
	if !p.svc.IsTaking("cs101") {
		t.Fatal("IsTaking() = false after teacher start")
	}
	envs = drain(student)
	if len(envs) != 1 || envs[0].Event != attendance.EventStarted {
		t.Errorf("student notifications = %+v, want one %s", envs, attendance.EventStarted)
	}

	// teacher stop notifies the room
	drain(teacher)
	p.Handle(teacher, Envelope{Event: attendance.EventStopAttendance, Data: rawJSON(t, map[string]string{"class_id": "cs101"})})
	if p.svc.IsTaking("cs101") {
		t.Error("IsTaking() = true after stop")
	}
	envs = drain(student)
	if len(envs) != 1 || envs[0].Event != attendance.EventStopped {
		t.Errorf("student notifications = %+v, want one %s", envs, attendance.EventStopped)
	}
}

func TestProtocol_markAttendance(t *testing.T) {
	p, hub := setupProtocol(t)
	teacher := newTestClient(hub, Identity{ID: "t1", Name: "Mw. Zawadi", IsTeacher: true})
	student := newTestClient(hub, Identity{ID: "s1", Name: "Amani", IsStudent: true})
	hub.Join(teacher, "cs101")
	hub.Join(student, "cs101")

	mark := func(token string) {
		p.Handle(student, Envelope{Event: attendance.EventMarkAttendance, Data: rawJSON(t, map[string]string{"class_id": "cs101", "token": token})})
	}

	// no active session
	mark("tok")
	envs := drain(student)
	if len(envs) != 1 || resultMessage(t, envs[0]) != msgNoActiveSession {
		t.Fatalf("replies = %+v, want one %q", envs, msgNoActiveSession)
	}

	p.Handle(teacher, Envelope{Event: attendance.EventStartAttendance, Data: rawJSON(t, map[string]string{"class_id": "cs101", "token": "tok"})})
	drain(student)
	drain(teacher)

	// wrong token
	mark("bad")
	envs = drain(student)
	if len(envs) != 1 || resultMessage(t, envs[0]) != msgInvalidToken {
		t.Fatalf("replies = %+v, want one %q", envs, msgInvalidToken)
	}

	// valid scan: room update then success ack, identity fills the payload
	mark("tok")
	envs = drain(student)
	if len(envs) != 2 {
		t.Fatalf("replies = %+v, want update + success", envs)
	}
	if envs[0].Event != attendance.EventUpdate {
		t.Errorf("first event = %q, want %q", envs[0].Event, attendance.EventUpdate)
	}
	var update attendance.UpdatePayload
	if err := json.Unmarshal(envs[0].Data, &update); err != nil {
		t.Fatalf("unmarshalling update: %v", err)
	}
	if update.StudentID != "s1" || update.StudentName != "Amani" {
		t.Errorf("update = %+v, want s1/Amani from identity", update)
	}
	if envs[1].Event != attendance.EventSuccess || resultMessage(t, envs[1]) != msgMarked {
		t.Errorf("second event = %+v, want %s %q", envs[1], attendance.EventSuccess, msgMarked)
	}
	if envs := drain(teacher); len(envs) != 1 || envs[0].Event != attendance.EventUpdate {
		t.Errorf("teacher notifications = %+v, want one %s", envs, attendance.EventUpdate)
	}

	// repeat scan: success ack only, no re-broadcast
	mark("tok")
	envs = drain(student)
	if len(envs) != 1 || envs[0].Event != attendance.EventSuccess {
		t.Errorf("repeat replies = %+v, want one %s", envs, attendance.EventSuccess)
	}
	if envs := drain(teacher); len(envs) != 0 {
		t.Errorf("teacher notifications on repeat = %+v, want none", envs)
	}

	// malformed payload
	p.Handle(student, Envelope{Event: attendance.EventMarkAttendance, Data: json.RawMessage(`{"class_id":`)})
	envs = drain(student)
	if len(envs) != 1 || resultMessage(t, envs[0]) != msgBadPayload {
		t.Errorf("replies = %+v, want one %q", envs, msgBadPayload)
	}
}
