package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prompthub/prompthub/internal/common"
	"github.com/prompthub/prompthub/internal/httpapi/middleware"
	"github.com/prompthub/prompthub/internal/models"
)

type submissionReq struct {
	Action string `json:"action"` // create | update | delete | batch-delete

	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Prompt      string   `json:"prompt"`
	Description string   `json:"description"`
	SourceLink  string   `json:"sourceLink"`
	Images      []string `json:"images"`
	ImageURL    string   `json:"imageUrl"`

	OriginalID string   `json:"originalId"`
	IDs        []string `json:"ids"`
}

// CreateSubmission files a review request as an issue. This is the entry
// point for users without push access.
func (h *Handler) CreateSubmission(c *gin.Context) {
	var req submissionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10040, "invalid json")
		return
	}

	sess := middleware.SessionFrom(c)
	token, ok := h.sessionToken(c)
	if !ok {
		return
	}

	var item models.Prompt
	switch req.Action {
	case models.ActionCreate, models.ActionUpdate:
		if req.Title == "" || req.Prompt == "" || req.Category == "" {
			common.Fail(c, http.StatusBadRequest, 10041, "title, category and prompt required")
			return
		}
		item = models.Prompt{
			ID:          uuid.NewString(),
			Title:       req.Title,
			Category:    req.Category,
			Tags:        req.Tags,
			Prompt:      req.Prompt,
			Description: req.Description,
			SourceLink:  req.SourceLink,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			Status:      models.StatusPublished,
			Images:      req.Images,
			ImageURL:    req.ImageURL,
			Author:      &models.Author{Username: sess.Login, AvatarURL: sess.AvatarURL},
		}
		if req.Action == models.ActionUpdate {
			if req.OriginalID == "" {
				common.Fail(c, http.StatusBadRequest, 10042, "originalId required")
				return
			}
			item.ID = req.OriginalID
		}
	case models.ActionDelete:
		if req.OriginalID == "" {
			common.Fail(c, http.StatusBadRequest, 10042, "originalId required")
			return
		}
	case models.ActionBatchDelete:
		if len(req.IDs) == 0 {
			common.Fail(c, http.StatusBadRequest, 10043, "ids required")
			return
		}
	default:
		common.Fail(c, http.StatusBadRequest, 10044, "unknown action")
		return
	}

	url, err := h.Repo.SubmitIssue(c.Request.Context(), token, req.Action, item, req.OriginalID, req.IDs)
	if err != nil {
		h.failMutation(c, err)
		return
	}
	common.OK(c, gin.H{"url": url})
}

func (h *Handler) MySubmissions(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	token, ok := h.sessionToken(c)
	if !ok {
		return
	}
	subs, err := h.Repo.UserSubmissions(c.Request.Context(), token, sess.Login)
	if err != nil {
		common.Fail(c, http.StatusBadGateway, 20040, "failed to list submissions")
		return
	}
	common.OK(c, subs)
}

// WithdrawSubmission closes the caller's own open issue.
func (h *Handler) WithdrawSubmission(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		common.Fail(c, http.StatusBadRequest, 10045, "invalid submission number")
		return
	}
	sess := middleware.SessionFrom(c)
	token, ok := h.sessionToken(c)
	if !ok {
		return
	}
	if err := h.Repo.Withdraw(c.Request.Context(), token, sess.Login, number); err != nil {
		common.Fail(c, http.StatusForbidden, 40300, "cannot withdraw this submission")
		return
	}
	common.OK(c, gin.H{"status": "withdrawn"})
}
