package prompt

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ReviewJob is one queued approval or rejection. The worker performs the
// actual repository mutation; the HTTP layer only enqueues and reports.
type ReviewJob struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	ReviewerLogin string `gorm:"type:varchar(64);index;not null" json:"reviewer"`
	Decision      string `gorm:"type:varchar(16);not null" json:"decision"` // approve | reject

	TargetType   string `gorm:"type:varchar(8);not null" json:"targetType"` // issue | pr
	TargetNumber int    `gorm:"index;not null" json:"targetNumber"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	ResultURL *string `gorm:"type:text" json:"resultUrl,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ReviewJob) TableName() string { return "review_jobs" }

type JobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) CreateJob(ctx context.Context, job *ReviewJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepo) GetJobByID(ctx context.Context, id string) (*ReviewJob, error) {
	var j ReviewJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJobStatusRunning flips queued -> running; a redelivered message that
// finds the job already past queued is a no-op.
func (r *JobRepo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&ReviewJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *JobRepo) MarkJobSucceeded(ctx context.Context, id, resultURL string) error {
	return r.db.WithContext(ctx).Model(&ReviewJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     JobSucceeded,
			"result_url": resultURL,
			"error":      nil,
		}).Error
}

func (r *JobRepo) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	return r.db.WithContext(ctx).Model(&ReviewJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     JobFailed,
			"error":      errMsg,
			"result_url": nil,
		}).Error
}

// ListRecentJobs returns the reviewer's latest jobs, newest first.
func (r *JobRepo) ListRecentJobs(ctx context.Context, reviewer string, limit int) ([]ReviewJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []ReviewJob
	if err := r.db.WithContext(ctx).
		Where("reviewer_login = ?", reviewer).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
