package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// messages surfaced to the scanning device; kept deliberately vague where
// precision would leak the current token
const (
	msgNoActiveSession = "No active attendance session."
	msgInvalidToken    = "Invalid or expired QR code."
	msgServerError     = "Server error marking attendance."
	msgMarked          = "Attendance marked successfully."
	msgTeacherOnly     = "Only teachers can manage attendance."
	msgBadPayload      = "Invalid request payload."
)

type roomRequest struct {
	ClassID string `json:"class_id" validate:"required"`
}

// Protocol routes inbound room events to the attendance coordinator. Each
// event is one stateless transaction: every error is resolved by replying to
// the sender and never crashes the session or affects other participants.
type Protocol struct {
	hub      *Hub
	svc      *attendance.Service
	validate *validator.Validate
	logger   core.Logger
}

func NewProtocol(hub *Hub, svc *attendance.Service, validate *validator.Validate, logger core.Logger) *Protocol {
	return &Protocol{
		hub:      hub,
		svc:      svc,
		validate: validate,
		logger:   logger,
	}
}

func (p *Protocol) Handle(c *Client, env Envelope) {
	switch env.Event {
	case attendance.EventJoinClass:
		p.joinClass(c, env.Data)
	case attendance.EventLeaveClass:
		p.leaveClass(c, env.Data)
	case attendance.EventStartAttendance:
		p.startAttendance(c, env.Data)
	case attendance.EventStopAttendance:
		p.stopAttendance(c, env.Data)
	case attendance.EventMarkAttendance:
		p.markAttendance(c, env.Data)
	default:
		p.logger.Debug(fmt.Sprintf("ignoring unknown event %q", env.Event))
	}
}

func (p *Protocol) joinClass(c *Client, data json.RawMessage) {
	var req roomRequest
	if !p.bind(c, data, &req) {
		return
	}
	p.hub.Join(c, req.ClassID)
}

func (p *Protocol) leaveClass(c *Client, data json.RawMessage) {
	var req roomRequest
	if !p.bind(c, data, &req) {
		return
	}
	p.hub.Leave(c, req.ClassID)
}

func (p *Protocol) startAttendance(c *Client, data json.RawMessage) {
	if !c.identity.IsTeacher {
		c.Reply(attendance.EventError, attendance.ResultPayload{Message: msgTeacherOnly})
		return
	}

	var ss attendance.StartSession
	if !p.bind(c, data, &ss) {
		return
	}
	ss.TeacherName = c.identity.Name
	ss.TeacherEmail = c.identity.Email

	p.svc.Start(ss)
}

func (p *Protocol) stopAttendance(c *Client, data json.RawMessage) {
	if !c.identity.IsTeacher {
		c.Reply(attendance.EventError, attendance.ResultPayload{Message: msgTeacherOnly})
		return
	}

	var req roomRequest
	if !p.bind(c, data, &req) {
		return
	}
	p.svc.Stop(context.Background(), req.ClassID)
}

func (p *Protocol) markAttendance(c *Client, data json.RawMessage) {
	var scan attendance.Scan
	if err := json.Unmarshal(data, &scan); err != nil {
		c.Reply(attendance.EventError, attendance.ResultPayload{Message: msgBadPayload})
		return
	}
	// the authenticated identity fills in what the payload omits
	if scan.StudentID == "" {
		scan.StudentID = c.identity.ID
	}
	if scan.StudentName == "" {
		scan.StudentName = c.identity.Name
	}
	if err := scan.Validate(p.validate); err != nil {
		c.Reply(attendance.EventError, attendance.ResultPayload{Message: msgBadPayload})
		return
	}

	if _, _, err := p.svc.Mark(context.Background(), scan); err != nil {
		c.Reply(attendance.EventError, attendance.ResultPayload{Message: p.scanErrorMessage(err)})
		return
	}
	c.Reply(attendance.EventSuccess, attendance.ResultPayload{Message: msgMarked})
}

// bind unmarshals and validates an inbound payload, replying with a generic
// error on failure.
func (p *Protocol) bind(c *Client, data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.Reply(attendance.EventError, attendance.ResultPayload{Message: msgBadPayload})
		return false
	}
	if err := p.validate.Struct(v); err != nil {
		c.Reply(attendance.EventError, attendance.ResultPayload{Message: msgBadPayload})
		return false
	}
	return true
}

func (p *Protocol) scanErrorMessage(err error) string {
	switch errors.Cause(err) {
	case attendance.ErrNoActiveSession:
		return msgNoActiveSession
	case attendance.ErrInvalidToken:
		return msgInvalidToken
	default:
		p.logger.Error(fmt.Sprintf("marking attendance: %v", err), err)
		return msgServerError
	}
}
