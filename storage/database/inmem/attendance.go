package inmemdb

import (
	"context"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type attendanceRepository struct {
	db *DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) *attendanceRepository {
	return &attendanceRepository{db: db}
}

// findActive must be called with db.mu held.
func (repo *attendanceRepository) findActive(classID string) *attendance.Record {
	var latest *attendance.Record
	for _, rec := range repo.db.records {
		if rec.ClassID != classID || !rec.IsActive {
			continue
		}
		if latest == nil || rec.OpenedAt.After(latest.OpenedAt) {
			latest = rec
		}
	}
	return latest
}

func (repo *attendanceRepository) copyOf(rec *attendance.Record) attendance.Record {
	cp := *rec
	cp.Present = make([]attendance.Presence, len(rec.Present))
	copy(cp.Present, rec.Present)
	return cp
}

func (repo *attendanceRepository) FindActiveRecord(ctx context.Context, classID string) (attendance.Record, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if rec := repo.findActive(classID); rec != nil {
		return repo.copyOf(rec), nil
	}
	return attendance.Record{}, attendance.ErrRecordNotFound
}

func (repo *attendanceRepository) EnsureActiveRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if existing := repo.findActive(rec.ClassID); existing != nil {
		return repo.copyOf(existing), nil
	}
	rec.Present = nil
	repo.db.records[rec.ID] = &rec
	return repo.copyOf(&rec), nil
}

// AddPresenceIfAbsent performs the membership check and the append under one
// write lock, matching the atomicity the SQL backend gets from its
// conditional insert.
func (repo *attendanceRepository) AddPresenceIfAbsent(ctx context.Context, recordID string, p attendance.Presence) (bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	rec, ok := repo.db.records[recordID]
	if !ok {
		return false, attendance.ErrRecordNotFound
	}
	for _, present := range rec.Present {
		if present.StudentID == p.StudentID {
			return false, nil
		}
	}
	rec.Present = append(rec.Present, p)
	return true, nil
}
