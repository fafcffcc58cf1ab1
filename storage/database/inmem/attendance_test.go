package inmemdb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/mahudhurio/core/attendance"
)

func TestAttendanceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAttendanceRepository(Open())

	if _, err := repo.FindActiveRecord(ctx, "cs101"); err != attendance.ErrRecordNotFound {
		t.Fatalf("FindActiveRecord() error = %v, want %v", err, attendance.ErrRecordNotFound)
	}

	now := time.Now().UTC()
	rec, err := repo.EnsureActiveRecord(ctx, attendance.Record{ID: "r1", ClassID: "cs101", OpenedAt: now, IsActive: true})
	if err != nil {
		t.Fatalf("EnsureActiveRecord() unexpected error = %v", err)
	}
	if rec.ID != "r1" {
		t.Errorf("EnsureActiveRecord() ID = %q, want r1", rec.ID)
	}

	// a second ensure for the same class converges on the existing record
	rec, err = repo.EnsureActiveRecord(ctx, attendance.Record{ID: "r2", ClassID: "cs101", OpenedAt: now, IsActive: true})
	if err != nil {
		t.Fatalf("EnsureActiveRecord() unexpected error = %v", err)
	}
	if rec.ID != "r1" {
		t.Errorf("EnsureActiveRecord() ID = %q, want the existing r1", rec.ID)
	}

	added, err := repo.AddPresenceIfAbsent(ctx, "r1", attendance.Presence{StudentID: "s1", StudentName: "Amani", ScannedAt: now})
	if err != nil {
		t.Fatalf("AddPresenceIfAbsent() unexpected error = %v", err)
	}
	if !added {
		t.Error("AddPresenceIfAbsent() added = false on first add")
	}

	added, err = repo.AddPresenceIfAbsent(ctx, "r1", attendance.Presence{StudentID: "s1", StudentName: "Amani", ScannedAt: now})
	if err != nil {
		t.Fatalf("AddPresenceIfAbsent() unexpected error = %v", err)
	}
	if added {
		t.Error("AddPresenceIfAbsent() added = true on repeat add")
	}

	if _, err = repo.AddPresenceIfAbsent(ctx, "nope", attendance.Presence{StudentID: "s1"}); err != attendance.ErrRecordNotFound {
		t.Errorf("AddPresenceIfAbsent() error = %v, want %v", err, attendance.ErrRecordNotFound)
	}

	rec, err = repo.FindActiveRecord(ctx, "cs101")
	if err != nil {
		t.Fatalf("FindActiveRecord() unexpected error = %v", err)
	}
	if len(rec.Present) != 1 {
		t.Errorf("Present len = %d, want 1", len(rec.Present))
	}

	// the returned roster is a copy
	rec.Present[0].StudentName = "mutated"
	rec, _ = repo.FindActiveRecord(ctx, "cs101")
	if rec.Present[0].StudentName != "Amani" {
		t.Error("FindActiveRecord() leaked internal state")
	}
}

func TestAttendanceRepository_concurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewAttendanceRepository(Open())
	now := time.Now().UTC()

	n := 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var addedCount int

	wg.Add(n * 2)
	for i := 0; i < n; i++ {
		// concurrent ensures all converge on one record
		go func(i int) {
			defer wg.Done()
			rec, err := repo.EnsureActiveRecord(ctx, attendance.Record{
				ID:       fmt.Sprintf("r%d", i),
				ClassID:  "cs101",
				OpenedAt: now,
				IsActive: true,
			})
			if err != nil {
				t.Errorf("EnsureActiveRecord() unexpected error = %v", err)
				return
			}
			// concurrent duplicate adds land exactly once
			added, err := repo.AddPresenceIfAbsent(ctx, rec.ID, attendance.Presence{StudentID: "dup", ScannedAt: now})
			if err != nil {
				t.Errorf("AddPresenceIfAbsent() unexpected error = %v", err)
				return
			}
			if added {
				mu.Lock()
				addedCount++
				mu.Unlock()
			}
		}(i)
		// distinct students all land
		go func(i int) {
			defer wg.Done()
			rec, err := repo.EnsureActiveRecord(ctx, attendance.Record{
				ID:       fmt.Sprintf("rr%d", i),
				ClassID:  "cs101",
				OpenedAt: now,
				IsActive: true,
			})
			if err != nil {
				t.Errorf("EnsureActiveRecord() unexpected error = %v", err)
				return
			}
			if _, err := repo.AddPresenceIfAbsent(ctx, rec.ID, attendance.Presence{
				StudentID: fmt.Sprintf("s%d", i),
				ScannedAt: now,
			}); err != nil {
				t.Errorf("AddPresenceIfAbsent() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if addedCount != 1 {
		t.Errorf("duplicate adds landed %d times, want 1", addedCount)
	}

	rec, err := repo.FindActiveRecord(ctx, "cs101")
	if err != nil {
		t.Fatalf("FindActiveRecord() unexpected error = %v", err)
	}
	if len(rec.Present) != n+1 {
		t.Errorf("Present len = %d, want %d", len(rec.Present), n+1)
	}
}
