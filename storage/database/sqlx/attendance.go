package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type (
	recordRow struct {
		ID       string    `db:"id"`
		ClassID  string    `db:"class_id"`
		OpenedAt time.Time `db:"opened_at"`
		IsActive bool      `db:"is_active"`
	}

	presenceRow struct {
		RecordID    string    `db:"record_id"`
		StudentID   string    `db:"student_id"`
		StudentName string    `db:"student_name"`
		ScannedAt   time.Time `db:"scanned_at"`
	}

	attendanceRepository struct {
		db *sqlx.DB
	}
)

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) *attendanceRepository {
	return &attendanceRepository{db: db}
}

func (repo attendanceRepository) record(row recordRow) attendance.Record {
	return attendance.Record{
		ID:       row.ID,
		ClassID:  row.ClassID,
		OpenedAt: row.OpenedAt,
		IsActive: row.IsActive,
	}
}

func (repo attendanceRepository) FindActiveRecord(ctx context.Context, classID string) (attendance.Record, error) {
	var row recordRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT id, class_id, opened_at, is_active
		   FROM attendance_record
		  WHERE class_id = $1 AND is_active
		  ORDER BY opened_at DESC
		  LIMIT 1`, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return attendance.Record{}, attendance.ErrRecordNotFound
		}
		return attendance.Record{}, errors.Wrap(err, "finding active record")
	}

	rec := repo.record(row)
	if err = repo.loadPresences(ctx, &rec); err != nil {
		return attendance.Record{}, err
	}
	return rec, nil
}

// EnsureActiveRecord resolves the class' active record, inserting rec when
// none exists. The insert races safely on the partial unique index
// (class_id WHERE is_active); a concurrent insert committed between the CTE
// and the fallback select can leave a first attempt empty-handed, hence the
// second attempt.
func (repo attendanceRepository) EnsureActiveRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	const q = `
		WITH ins AS (
			INSERT INTO attendance_record (id, class_id, opened_at, is_active)
			VALUES ($1, $2, $3, TRUE)
			ON CONFLICT (class_id) WHERE is_active DO NOTHING
			RETURNING id, class_id, opened_at, is_active
		)
		SELECT id, class_id, opened_at, is_active FROM ins
		UNION ALL
		SELECT id, class_id, opened_at, is_active FROM attendance_record
		 WHERE class_id = $2 AND is_active
		LIMIT 1`

	var row recordRow
	var err error
	for attempts := 0; attempts < 2; attempts++ {
		err = repo.db.GetContext(ctx, &row, q, rec.ID, rec.ClassID, rec.OpenedAt)
		if err == nil {
			return repo.record(row), nil
		}
		if err != sql.ErrNoRows {
			break
		}
	}
	return attendance.Record{}, errors.Wrap(err, "ensuring active record")
}

// AddPresenceIfAbsent is the atomic add-if-absent: a single conditional
// insert keyed on (record_id, student_id). Concurrent scans for the same
// student resolve to exactly one inserted row.
func (repo attendanceRepository) AddPresenceIfAbsent(ctx context.Context, recordID string, p attendance.Presence) (bool, error) {
	res, err := repo.db.ExecContext(ctx,
		`INSERT INTO attendance_presence (record_id, student_id, student_name, scanned_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (record_id, student_id) DO NOTHING`,
		recordID, p.StudentID, p.StudentName, p.ScannedAt)
	if err != nil {
		return false, errors.Wrap(err, "inserting presence")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "checking inserted presence")
	}
	return n > 0, nil
}

func (repo attendanceRepository) loadPresences(ctx context.Context, rec *attendance.Record) error {
	var rows []presenceRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT record_id, student_id, student_name, scanned_at
		   FROM attendance_presence
		  WHERE record_id = $1
		  ORDER BY scanned_at`, rec.ID)
	if err != nil {
		return errors.Wrap(err, "loading presences")
	}

	rec.Present = make([]attendance.Presence, 0, len(rows))
	for _, row := range rows {
		rec.Present = append(rec.Present, attendance.Presence{
			StudentID:   row.StudentID,
			StudentName: row.StudentName,
			ScannedAt:   row.ScannedAt,
		})
	}
	return nil
}
