package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/identity"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/tools"
)

type stubEnqueuer struct {
	enqueued []string
	fail     bool
}

func (s *stubEnqueuer) EnqueueJob(_ context.Context, jobID string) error {
	if s.fail {
		return fmt.Errorf("queue unreachable")
	}
	s.enqueued = append(s.enqueued, jobID)
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *jobs.Repository, *files.Repository, *stubEnqueuer) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "scheduler.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	jobRepo := jobs.NewRepository(db)
	if err := jobRepo.Migrate(); err != nil {
		t.Fatalf("failed to migrate jobs: %v", err)
	}
	fileRepo := files.NewRepository(db)
	if err := fileRepo.Migrate(); err != nil {
		t.Fatalf("failed to migrate files: %v", err)
	}

	cfg := &config.Config{
		FileTTLHours:         24,
		GuestMaxActiveJobs:   2,
		UserMaxActiveJobs:    5,
		PremiumMaxActiveJobs: 20,
		GuestMaxStorageBytes: 200 * 1024 * 1024,
		UserMaxStorageBytes:  1024 * 1024 * 1024,
	}

	enqueuer := &stubEnqueuer{}
	sched := New(cfg, tools.Default(), jobRepo, fileRepo, enqueuer, log.New(io.Discard, "", 0))
	return sched, jobRepo, fileRepo, enqueuer
}

func createTestFile(t *testing.T, repo *files.Repository, fileID, owner, mime string) {
	t.Helper()
	err := repo.Create(context.Background(), &files.File{
		FileID:           fileID,
		OwnerKey:         owner,
		OriginalFilename: fileID + ".pdf",
		StoredReference:  "blob-" + fileID,
		SizeBytes:        1024,
		MimeType:         mime,
		IsInput:          true,
		ExpiresAt:        time.Now().UTC().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to create file %s: %v", fileID, err)
	}
}

func TestSubmitCreatesPendingJobAndEnqueues(t *testing.T) {
	sched, jobRepo, fileRepo, enqueuer := newTestScheduler(t)
	ctx := context.Background()
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}

	createTestFile(t, fileRepo, "f1", caller.Key.String(), "application/pdf")
	createTestFile(t, fileRepo, "f2", caller.Key.String(), "application/pdf")

	job, err := sched.Submit(ctx, caller, SubmitRequest{
		ToolName:     "pdf_merge",
		InputFileIDs: []string{"f1", "f2"},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if job.Status != jobs.StatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if len(enqueuer.enqueued) != 1 || enqueuer.enqueued[0] != job.JobID {
		t.Fatalf("job not enqueued: %v", enqueuer.enqueued)
	}

	stored, err := jobRepo.Get(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	ids, err := stored.InputIDs()
	if err != nil {
		t.Fatalf("InputIDs returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "f1" || ids[1] != "f2" {
		t.Fatalf("input order not preserved: %v", ids)
	}
}

func TestSubmitUnknownTool(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t)
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}

	_, err := sched.Submit(context.Background(), caller, SubmitRequest{ToolName: "pdf_rotate"})
	assertCode(t, err, CodeUnknownTool)
}

func TestSubmitInvalidParameters(t *testing.T) {
	sched, _, fileRepo, _ := newTestScheduler(t)
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}
	createTestFile(t, fileRepo, "f1", caller.Key.String(), "application/pdf")

	_, err := sched.Submit(context.Background(), caller, SubmitRequest{
		ToolName:     "pdf_split",
		InputFileIDs: []string{"f1"},
		Parameters:   json.RawMessage(`{"bogus": true}`),
	})
	assertCode(t, err, CodeInvalidParameters)
}

func TestSubmitInputCountOutOfRange(t *testing.T) {
	sched, _, fileRepo, _ := newTestScheduler(t)
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}
	createTestFile(t, fileRepo, "f1", caller.Key.String(), "application/pdf")

	// pdf_merge は最低2ファイル必要
	_, err := sched.Submit(context.Background(), caller, SubmitRequest{
		ToolName:     "pdf_merge",
		InputFileIDs: []string{"f1"},
	})
	assertCode(t, err, CodeInvalidParameters)
}

func TestSubmitRejectsWrongMIME(t *testing.T) {
	sched, _, fileRepo, _ := newTestScheduler(t)
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}
	createTestFile(t, fileRepo, "f1", caller.Key.String(), "application/pdf")
	createTestFile(t, fileRepo, "f2", caller.Key.String(), "image/png")

	_, err := sched.Submit(context.Background(), caller, SubmitRequest{
		ToolName:     "pdf_merge",
		InputFileIDs: []string{"f1", "f2"},
	})
	assertCode(t, err, CodeInvalidParameters)
}

func TestSubmitFileNotFound(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t)
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}

	_, err := sched.Submit(context.Background(), caller, SubmitRequest{
		ToolName:     "pdf_compress",
		InputFileIDs: []string{"missing"},
	})
	assertCode(t, err, CodeFileNotFound)
}

func TestSubmitForeignFileForbidden(t *testing.T) {
	sched, jobRepo, fileRepo, _ := newTestScheduler(t)
	ctx := context.Background()
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}
	createTestFile(t, fileRepo, "f1", "user:2", "application/pdf")

	_, err := sched.Submit(ctx, caller, SubmitRequest{
		ToolName:     "pdf_compress",
		InputFileIDs: []string{"f1"},
	})
	assertCode(t, err, CodeFileForbidden)

	// 拒否された投入はジョブ行を残さない
	if _, total, err := jobRepo.ListHistory(ctx, caller.Key.String(), 1, 10); err != nil || total != 0 {
		t.Fatalf("rejected submit must not create a job row (total=%d, err=%v)", total, err)
	}
}

func TestSubmitExpiredFile(t *testing.T) {
	sched, _, fileRepo, _ := newTestScheduler(t)
	ctx := context.Background()
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}

	err := fileRepo.Create(ctx, &files.File{
		FileID:          "old",
		OwnerKey:        caller.Key.String(),
		StoredReference: "blob-old",
		MimeType:        "application/pdf",
		ExpiresAt:       time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to create expired file: %v", err)
	}

	_, err = sched.Submit(ctx, caller, SubmitRequest{
		ToolName:     "pdf_compress",
		InputFileIDs: []string{"old"},
	})
	assertCode(t, err, CodeFileExpired)
}

func TestSubmitConcurrencyLimit(t *testing.T) {
	sched, jobRepo, fileRepo, _ := newTestScheduler(t)
	ctx := context.Background()
	caller := identity.Identity{Key: identity.GuestKey("tok"), Role: identity.RoleGuest}
	createTestFile(t, fileRepo, "f1", caller.Key.String(), "application/pdf")

	// ゲスト上限（2件）までアクティブジョブを積む
	for i := 0; i < 2; i++ {
		job := &jobs.Job{
			JobID:     fmt.Sprintf("active-%d", i),
			OwnerKey:  caller.Key.String(),
			ToolName:  "pdf_compress",
			Status:    jobs.StatusPending,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		if err := jobRepo.Create(ctx, job); err != nil {
			t.Fatalf("failed to seed job: %v", err)
		}
	}

	_, err := sched.Submit(ctx, caller, SubmitRequest{
		ToolName:     "pdf_compress",
		InputFileIDs: []string{"f1"},
	})
	assertCode(t, err, CodeConcurrencyLimit)
}

func TestSubmitStorageLimit(t *testing.T) {
	sched, _, fileRepo, _ := newTestScheduler(t)
	ctx := context.Background()
	caller := identity.Identity{Key: identity.GuestKey("tok"), Role: identity.RoleGuest}

	err := fileRepo.Create(ctx, &files.File{
		FileID:          "big",
		OwnerKey:        caller.Key.String(),
		StoredReference: "blob-big",
		SizeBytes:       200 * 1024 * 1024,
		MimeType:        "application/pdf",
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	_, err = sched.Submit(ctx, caller, SubmitRequest{
		ToolName:     "pdf_compress",
		InputFileIDs: []string{"big"},
	})
	assertCode(t, err, CodeStorageLimit)
}

func TestSubmitEnqueueFailureLeavesPendingRow(t *testing.T) {
	sched, jobRepo, fileRepo, enqueuer := newTestScheduler(t)
	ctx := context.Background()
	caller := identity.Identity{Key: identity.UserKey("1"), Role: identity.RoleUser}
	createTestFile(t, fileRepo, "f1", caller.Key.String(), "application/pdf")
	enqueuer.fail = true

	_, err := sched.Submit(ctx, caller, SubmitRequest{
		ToolName:     "pdf_compress",
		InputFileIDs: []string{"f1"},
	})
	assertCode(t, err, CodeServiceUnavailable)

	// 行は pending のまま残り、スイーパーの再投入対象になる
	results, total, err := jobRepo.ListHistory(ctx, caller.Key.String(), 1, 10)
	if err != nil {
		t.Fatalf("ListHistory returned error: %v", err)
	}
	if total != 1 || results[0].Status != jobs.StatusPending {
		t.Fatalf("expected one pending row, got total=%d results=%v", total, results)
	}
}

func TestLimitsForAdminIsUnlimited(t *testing.T) {
	cfg := &config.Config{GuestMaxActiveJobs: 2, UserMaxActiveJobs: 5}
	limits := LimitsFor(cfg, identity.RoleAdmin)
	if limits.MaxActiveJobs != 0 || limits.MaxStorageBytes != 0 {
		t.Fatalf("admin limits should be zero (unlimited): %+v", limits)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var schedErr *Error
	if !errors.As(err, &schedErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if schedErr.Code != code {
		t.Fatalf("code = %s, want %s", schedErr.Code, code)
	}
}
