package handlers

import (
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/prompthub/prompthub/internal/common"
	"github.com/prompthub/prompthub/internal/httpapi/middleware"
	"github.com/prompthub/prompthub/internal/models"
	"github.com/prompthub/prompthub/internal/prompt"
)

func newJobID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func (h *Handler) AdminSubmissions(c *gin.Context) {
	token, ok := h.sessionToken(c)
	if !ok {
		return
	}
	subs, err := h.Repo.PendingSubmissions(c.Request.Context(), token)
	if err != nil {
		common.Fail(c, http.StatusBadGateway, 20050, "failed to list submissions")
		return
	}
	common.OK(c, subs)
}

type decisionReq struct {
	Type string `json:"type"` // issue | pr
}

// enqueueDecision records a review job and hands it to the worker. The HTTP
// response carries the job id; progress is polled via GetJob.
func (h *Handler) enqueueDecision(c *gin.Context, decision string) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		common.Fail(c, http.StatusBadRequest, 10050, "invalid submission number")
		return
	}
	var req decisionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10051, "invalid json")
		return
	}
	if req.Type != models.SubmissionIssue && req.Type != models.SubmissionPull {
		common.Fail(c, http.StatusBadRequest, 10052, "type must be issue or pr")
		return
	}

	sess := middleware.SessionFrom(c)
	job := &prompt.ReviewJob{
		ID:            newJobID(),
		ReviewerLogin: sess.Login,
		Decision:      decision,
		TargetType:    req.Type,
		TargetNumber:  number,
		Status:        prompt.JobQueued,
	}
	ctx := c.Request.Context()
	if err := h.Jobs.CreateJob(ctx, job); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50050, "failed to create job")
		return
	}
	if err := h.Queue.PublishReviewJob(ctx, job.ID); err != nil {
		_ = h.Jobs.MarkJobFailed(ctx, job.ID, "enqueue failed: "+err.Error())
		common.Fail(c, http.StatusInternalServerError, 50051, "failed to enqueue job")
		return
	}
	common.OK(c, gin.H{"jobId": job.ID, "status": job.Status})
}

func (h *Handler) ApproveSubmission(c *gin.Context) {
	h.enqueueDecision(c, "approve")
}

func (h *Handler) RejectSubmission(c *gin.Context) {
	h.enqueueDecision(c, "reject")
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Jobs.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40450, "job not found")
		return
	}
	common.OK(c, job)
}
