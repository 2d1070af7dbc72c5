package prompt

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openJobDB(t *testing.T) *JobRepo {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ReviewJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewJobRepo(db)
}

func TestJobStatusTransitions(t *testing.T) {
	repo := openJobDB(t)
	ctx := context.Background()

	job := &ReviewJob{
		ID:            "01HTESTJOB0000000000000001",
		ReviewerLogin: "alice",
		Decision:      "approve",
		TargetType:    "issue",
		TargetNumber:  7,
		Status:        JobQueued,
	}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := repo.UpdateJobStatusRunning(ctx, job.ID); err != nil {
		t.Fatalf("running: %v", err)
	}
	got, err := repo.GetJobByID(ctx, job.ID)
	if err != nil || got.Status != JobRunning {
		t.Fatalf("status = %v, %v", got.Status, err)
	}

	if err := repo.MarkJobSucceeded(ctx, job.ID, "issue #7 approved"); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	got, _ = repo.GetJobByID(ctx, job.ID)
	if got.Status != JobSucceeded || got.ResultURL == nil || *got.ResultURL != "issue #7 approved" {
		t.Fatalf("succeeded job wrong: %+v", got)
	}
	if got.Error != nil {
		t.Fatalf("error not cleared: %v", *got.Error)
	}
}

func TestRunningTransitionOnlyFromQueued(t *testing.T) {
	repo := openJobDB(t)
	ctx := context.Background()

	job := &ReviewJob{
		ID:            "01HTESTJOB0000000000000002",
		ReviewerLogin: "alice",
		Decision:      "reject",
		TargetType:    "pr",
		TargetNumber:  9,
		Status:        JobQueued,
	}
	_ = repo.CreateJob(ctx, job)
	_ = repo.MarkJobFailed(ctx, job.ID, "boom")

	// redelivery after completion must not resurrect the job
	_ = repo.UpdateJobStatusRunning(ctx, job.ID)
	got, err := repo.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if got.Status != JobFailed {
		t.Fatalf("status = %v, want failed", got.Status)
	}
	if got.Error == nil || *got.Error != "boom" {
		t.Fatalf("error lost: %+v", got)
	}
}
