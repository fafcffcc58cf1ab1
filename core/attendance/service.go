package attendance

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/csv"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

var (
	// errors
	ErrNoActiveSession = errors.New("no active attendance session")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrRecordNotFound  = errors.New("attendance record not found")
)

type (
	// Repository is the durable attendance record store. AddPresenceIfAbsent
	// MUST be a single atomic conditional insert at the storage layer: two
	// concurrent scans for the same student must never race past a
	// check-then-save sequence.
	Repository interface {
		// FindActiveRecord returns the most recent active record for classID,
		// or ErrRecordNotFound.
		FindActiveRecord(ctx context.Context, classID string) (Record, error)
		// EnsureActiveRecord returns the active record for rec.ClassID,
		// creating rec if none exists. Concurrent calls for the same class
		// must converge on a single record.
		EnsureActiveRecord(ctx context.Context, rec Record) (Record, error)
		// AddPresenceIfAbsent appends p to the record's present set only if
		// its StudentID is not a member yet. Returns true if p was added,
		// false if the student was already present.
		AddPresenceIfAbsent(ctx context.Context, recordID string, p Presence) (bool, error)
	}

	// Broadcaster fans an event out to every connection in a class room.
	Broadcaster interface {
		Broadcast(classID, event string, data interface{})
	}

	// Service coordinates attendance sessions: registry lifecycle, scan
	// validation and the durable, deduplicated presence appends.
	Service struct {
		registry *Registry
		repo     Repository
		bc       Broadcaster
		mailSvc  core.EmailService
		conf     *core.Config
		logger   core.Logger
		nowFunc  func() time.Time // mockable
	}
)

func NewService(
	registry *Registry,
	repo Repository,
	bc Broadcaster,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		registry: registry,
		repo:     repo,
		bc:       bc,
		mailSvc:  mailSvc,
		conf:     conf,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Start opens an attendance session for the class and notifies the room.
// A session already running for the class is replaced, invalidating its token
// immediately.
func (svc *Service) Start(ss StartSession) Session {
	sess := Session{
		ClassID:      ss.ClassID,
		Token:        ss.Token,
		StartedAt:    svc.nowFunc().UTC(),
		TeacherName:  ss.TeacherName,
		TeacherEmail: ss.TeacherEmail,
	}
	svc.registry.Start(sess)
	svc.bc.Broadcast(sess.ClassID, EventStarted, StartedPayload{IsActive: true})
	return sess
}

// Stop closes the class session, notifies the room and emails the teacher an
// attendance summary. Stopping a class with no session is a no-op beyond the
// room notification.
func (svc *Service) Stop(ctx context.Context, classID string) {
	sess, ok := svc.registry.Get(classID)
	svc.registry.Stop(classID)
	svc.bc.Broadcast(classID, EventStopped, StoppedPayload{IsActive: false})

	if ok && sess.TeacherEmail != "" {
		if err := svc.sendSummary(ctx, sess); err != nil {
			// best-effort: the room is already notified, never surface this
			svc.logger.Error(fmt.Sprintf("sending attendance summary for class %s: %v", classID, err), err)
		}
	}
}

// Mark processes a single presence claim. It validates the scan token against
// the registry (read fresh, before any I/O), lazily resolves the active record
// and performs the atomic deduplicated append. It returns the resulting
// Presence and whether it was newly added; a repeat scan by the same student
// is an idempotent success (added=false) with no broadcast.
func (svc *Service) Mark(ctx context.Context, scan Scan) (Presence, bool, error) {
	sess, ok := svc.registry.Get(scan.ClassID)
	if !ok {
		return Presence{}, false, ErrNoActiveSession
	}
	if subtle.ConstantTimeCompare([]byte(sess.Token), []byte(scan.Token)) == 0 {
		return Presence{}, false, ErrInvalidToken
	}

	now := svc.nowFunc().UTC()
	rec, err := svc.repo.EnsureActiveRecord(ctx, Record{
		ID:       uuid.New().String(),
		ClassID:  scan.ClassID,
		OpenedAt: now,
		IsActive: true,
	})
	if err != nil {
		return Presence{}, false, pkgerrors.Wrap(err, "resolving active attendance record")
	}

	p := Presence{
		StudentID:   scan.StudentID,
		StudentName: scan.StudentName,
		ScannedAt:   now,
	}
	added, err := svc.repo.AddPresenceIfAbsent(ctx, rec.ID, p)
	if err != nil {
		return Presence{}, false, pkgerrors.Wrap(err, "appending presence")
	}

	if added {
		svc.bc.Broadcast(scan.ClassID, EventUpdate, UpdatePayload{
			StudentID:   p.StudentID,
			StudentName: p.StudentName,
			Status:      StatusPresent,
		})
	}
	return p, added, nil
}

// ActiveRecord returns the class' currently active record with its roster.
func (svc *Service) ActiveRecord(ctx context.Context, classID string) (Record, error) {
	return svc.repo.FindActiveRecord(ctx, classID)
}

// IsTaking reports whether attendance is currently being taken for the class.
func (svc *Service) IsTaking(classID string) bool {
	_, ok := svc.registry.Get(classID)
	return ok
}

func (svc *Service) sendSummary(ctx context.Context, sess Session) error {
	rec, err := svc.repo.FindActiveRecord(ctx, sess.ClassID)
	if err != nil {
		if pkgerrors.Cause(err) == ErrRecordNotFound {
			return nil // nobody scanned; nothing to report
		}
		return err
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: sess.TeacherName, Address: sess.TeacherEmail}},
		Subject:      fmt.Sprintf("Attendance summary for class %s", sess.ClassID),
		TemplateName: "attendance-summary",
		TemplateData: rec,
	}
	if err := msg.Attach(rosterCSV(rec), "attendance.csv", "text/csv"); err != nil {
		return err
	}
	svc.mailSvc.SendMessages(msg)
	return nil
}

func rosterCSV(rec Record) *bytes.Buffer {
	var buff bytes.Buffer
	w := csv.NewWriter(&buff)
	_ = w.Write([]string{"student_id", "student_name", "scanned_at"})
	for _, p := range rec.Present {
		_ = w.Write([]string{p.StudentID, p.StudentName, p.ScannedAt.Format(time.RFC3339)})
	}
	w.Flush()
	return &buff
}
