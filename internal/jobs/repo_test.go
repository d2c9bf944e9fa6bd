package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	repo := NewRepository(db)
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repo
}

func newPendingJob(t *testing.T, repo *Repository, jobID, owner string) *Job {
	t.Helper()
	job := &Job{
		JobID:     jobID,
		OwnerKey:  owner,
		ToolName:  "pdf_merge",
		Status:    StatusPending,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if err := job.SetInputIDs([]string{"f1", "f2"}); err != nil {
		t.Fatalf("SetInputIDs returned error: %v", err)
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return job
}

func TestClaimIsExclusive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")

	first, err := repo.Claim(ctx, "job-1")
	if err != nil {
		t.Fatalf("first Claim returned error: %v", err)
	}
	if !first {
		t.Fatal("first claim should succeed")
	}

	second, err := repo.Claim(ctx, "job-1")
	if err != nil {
		t.Fatalf("second Claim returned error: %v", err)
	}
	if second {
		t.Fatal("second claim must be rejected")
	}

	job, err := repo.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != StatusProcessing {
		t.Fatalf("unexpected status after claim: %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Fatal("started_at should be set by claim")
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")

	if _, err := repo.Claim(ctx, "job-1"); err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if err := repo.UpdateProgress(ctx, "job-1", 60); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	// 後退する更新は無視される
	if err := repo.UpdateProgress(ctx, "job-1", 30); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}

	job, _ := repo.Get(ctx, "job-1")
	if job.Progress != 60 {
		t.Fatalf("progress regressed: %d", job.Progress)
	}
}

func TestTerminalStatusIsNeverOverwritten(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")

	if _, err := repo.Claim(ctx, "job-1"); err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	ok, err := repo.MarkCompleted(ctx, "job-1", "out-1")
	if err != nil || !ok {
		t.Fatalf("MarkCompleted failed: ok=%v err=%v", ok, err)
	}

	if ok, _ := repo.MarkFailed(ctx, "job-1", "late failure"); ok {
		t.Fatal("MarkFailed must not overwrite a terminal status")
	}
	if ok, _ := repo.MarkCompleted(ctx, "job-1", "out-2"); ok {
		t.Fatal("MarkCompleted must not apply twice")
	}

	job, _ := repo.Get(ctx, "job-1")
	if job.Status != StatusCompleted || *job.OutputFileID != "out-1" {
		t.Fatalf("terminal state was modified: %s %v", job.Status, job.OutputFileID)
	}
	if job.ErrorMessage != nil {
		t.Fatal("completed job must not carry an error message")
	}
}

func TestCancelPendingJob(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")

	outcome, err := repo.Cancel(ctx, "job-1", "user:1")
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if outcome != CancelOutcomeCancelled {
		t.Fatalf("unexpected outcome: %s", outcome)
	}

	// キャンセル後のクレームは失敗する
	if ok, _ := repo.Claim(ctx, "job-1"); ok {
		t.Fatal("cancelled job must not be claimable")
	}
}

func TestCancelCompletedJobReturnsAlreadyTerminal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")
	if _, err := repo.Claim(ctx, "job-1"); err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if _, err := repo.MarkCompleted(ctx, "job-1", "out-1"); err != nil {
		t.Fatalf("MarkCompleted returned error: %v", err)
	}

	outcome, err := repo.Cancel(ctx, "job-1", "user:1")
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if outcome != CancelOutcomeAlreadyTerminal {
		t.Fatalf("unexpected outcome: %s", outcome)
	}

	job, _ := repo.Get(ctx, "job-1")
	if job.Status != StatusCompleted {
		t.Fatalf("cancel changed a terminal job: %s", job.Status)
	}
}

func TestCancelForeignJobReturnsNotFound(t *testing.T) {
	repo := newTestRepo(t)
	newPendingJob(t, repo, "job-1", "user:1")

	if _, err := repo.Cancel(context.Background(), "job-1", "user:2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestReleaseClaimAllowsReclaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")

	if _, err := repo.Claim(ctx, "job-1"); err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if err := repo.ReleaseClaim(ctx, "job-1"); err != nil {
		t.Fatalf("ReleaseClaim returned error: %v", err)
	}

	job, _ := repo.Get(ctx, "job-1")
	if job.Status != StatusPending || job.Attempts != 1 {
		t.Fatalf("unexpected state after release: %s attempts=%d", job.Status, job.Attempts)
	}

	if ok, _ := repo.Claim(ctx, "job-1"); !ok {
		t.Fatal("released job must be claimable again")
	}
}

func TestCountActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")
	newPendingJob(t, repo, "job-2", "user:1")
	newPendingJob(t, repo, "job-3", "user:2")

	if _, err := repo.Claim(ctx, "job-2"); err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if _, err := repo.Cancel(ctx, "job-1", "user:1"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	count, err := repo.CountActive(ctx, "user:1")
	if err != nil {
		t.Fatalf("CountActive returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("unexpected active count: %d", count)
	}
}

func TestListHistoryPagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		newPendingJob(t, repo, id, "user:1")
	}
	newPendingJob(t, repo, "job-x", "user:2")

	page1, total, err := repo.ListHistory(ctx, "user:1", 1, 2)
	if err != nil {
		t.Fatalf("ListHistory returned error: %v", err)
	}
	if total != 3 || len(page1) != 2 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(page1))
	}

	page2, _, err := repo.ListHistory(ctx, "user:1", 2, 2)
	if err != nil {
		t.Fatalf("ListHistory returned error: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("unexpected second page length: %d", len(page2))
	}
}

func TestDeleteExpired(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	job := newPendingJob(t, repo, "job-1", "user:1")
	newPendingJob(t, repo, "job-2", "user:1")

	// job-1 だけ期限切れにする
	repo.db.Model(&Job{}).Where("job_id = ?", job.JobID).
		Update("expires_at", time.Now().UTC().Add(-time.Hour))

	deleted, err := repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("unexpected delete count: %d", deleted)
	}
	if _, err := repo.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected job-1 to be gone, got %v", err)
	}
	if _, err := repo.Get(ctx, "job-2"); err != nil {
		t.Fatalf("job-2 must survive: %v", err)
	}
}

func TestStalePending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	newPendingJob(t, repo, "job-1", "user:1")

	stale, err := repo.StalePending(ctx, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("StalePending returned error: %v", err)
	}
	if len(stale) != 1 || stale[0].JobID != "job-1" {
		t.Fatalf("unexpected stale set: %#v", stale)
	}

	// クレーム済みのジョブは対象外
	if _, err := repo.Claim(ctx, "job-1"); err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	stale, err = repo.StalePending(ctx, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("StalePending returned error: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("claimed job must not be stale: %#v", stale)
	}
}
