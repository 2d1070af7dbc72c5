package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prompthub/prompthub/internal/common"
	"github.com/prompthub/prompthub/internal/httpapi/middleware"
	"github.com/prompthub/prompthub/internal/models"
	"github.com/prompthub/prompthub/internal/prompt"
)

// ListPrompts serves the cached collection, optionally filtered by category
// and a case-insensitive text query.
func (h *Handler) ListPrompts(c *gin.Context) {
	data, err := h.Repo.LoadAll(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusBadGateway, 20010, "failed to load prompts")
		return
	}

	category := c.Query("category")
	tag := c.Query("tag")
	q := strings.ToLower(c.Query("q"))
	if category == "" && tag == "" && q == "" {
		common.OK(c, data)
		return
	}

	out := models.PromptsData{Version: data.Version}
	for _, p := range data.Prompts {
		if category != "" && p.Category != category {
			continue
		}
		if tag != "" && !containsTag(p.Tags, tag) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(p.Title), q) &&
			!strings.Contains(strings.ToLower(p.Description), q) &&
			!strings.Contains(strings.ToLower(p.Prompt), q) {
			continue
		}
		out.Prompts = append(out.Prompts, p)
	}
	common.OK(c, out)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (h *Handler) GetPrompt(c *gin.Context) {
	p, err := h.Repo.Store.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.Fail(c, http.StatusBadGateway, 20011, "failed to load prompt")
		return
	}
	if p == nil {
		common.Fail(c, http.StatusNotFound, 40410, "prompt not found")
		return
	}
	common.OK(c, p)
}

type promptReq struct {
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Prompt      string   `json:"prompt"`
	Description string   `json:"description"`
	SourceLink  string   `json:"sourceLink"`
	Status      string   `json:"status"`
	Images      []string `json:"images"`
	ImageURL    string   `json:"imageUrl"`
}

func (h *Handler) directMode(c *gin.Context) bool {
	return c.DefaultQuery("mode", "review") == "direct"
}

// sessionToken unseals the caller's upstream token. The auth middleware has
// already loaded the session.
func (h *Handler) sessionToken(c *gin.Context) (string, bool) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "no session")
		return "", false
	}
	token, err := h.Sessions.Token(sess)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50010, "session token unavailable")
		return "", false
	}
	return token, true
}

func (h *Handler) CreatePrompt(c *gin.Context) {
	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, "invalid json")
		return
	}
	if req.Title == "" || req.Prompt == "" || req.Category == "" {
		common.Fail(c, http.StatusBadRequest, 10011, "title, category and prompt required")
		return
	}

	token, ok := h.sessionToken(c)
	if !ok {
		return
	}
	sess := middleware.SessionFrom(c)

	status := req.Status
	if status == "" {
		status = models.StatusPublished
	}
	item := models.Prompt{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Category:    req.Category,
		Tags:        req.Tags,
		Prompt:      req.Prompt,
		Description: req.Description,
		SourceLink:  req.SourceLink,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Status:      status,
		Images:      req.Images,
		ImageURL:    req.ImageURL,
		Author:      &models.Author{Username: sess.Login, AvatarURL: sess.AvatarURL},
	}

	url, err := h.Repo.Add(c.Request.Context(), token, item, h.directMode(c))
	if err != nil {
		h.failMutation(c, err)
		return
	}
	common.OK(c, gin.H{"id": item.ID, "url": url})
}

func (h *Handler) UpdatePrompt(c *gin.Context) {
	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, "invalid json")
		return
	}
	token, ok := h.sessionToken(c)
	if !ok {
		return
	}

	id := c.Param("id")
	url, err := h.Repo.Update(c.Request.Context(), token, id, func(old models.Prompt) models.Prompt {
		next := old
		if req.Title != "" {
			next.Title = req.Title
		}
		if req.Category != "" {
			next.Category = req.Category
		}
		if req.Prompt != "" {
			next.Prompt = req.Prompt
		}
		if req.Description != "" {
			next.Description = req.Description
		}
		if req.SourceLink != "" {
			next.SourceLink = req.SourceLink
		}
		if req.Status != "" {
			next.Status = req.Status
		}
		if req.Tags != nil {
			next.Tags = req.Tags
		}
		if req.Images != nil {
			next.Images = req.Images
		}
		if req.ImageURL != "" {
			next.ImageURL = req.ImageURL
		}
		return next
	}, h.directMode(c))
	if err != nil {
		h.failMutation(c, err)
		return
	}
	common.OK(c, gin.H{"id": id, "url": url})
}

func (h *Handler) DeletePrompt(c *gin.Context) {
	token, ok := h.sessionToken(c)
	if !ok {
		return
	}
	id := c.Param("id")
	url, err := h.Repo.Delete(c.Request.Context(), token, id, h.directMode(c))
	if err != nil {
		h.failMutation(c, err)
		return
	}
	common.OK(c, gin.H{"id": id, "url": url})
}

type batchDeleteReq struct {
	IDs []string `json:"ids"`
}

func (h *Handler) BatchDeletePrompts(c *gin.Context) {
	var req batchDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		common.Fail(c, http.StatusBadRequest, 10012, "ids required")
		return
	}
	token, ok := h.sessionToken(c)
	if !ok {
		return
	}
	url, deleted, err := h.Repo.BatchDelete(c.Request.Context(), token, req.IDs, h.directMode(c))
	if err != nil {
		h.failMutation(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": deleted, "url": url})
}

const maxImageBytes = 5 << 20

func (h *Handler) UploadImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10013, "image file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10014, "failed to read image")
		return
	}
	if len(data) > maxImageBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 10015, "image too large")
		return
	}

	token, ok := h.sessionToken(c)
	if !ok {
		return
	}
	url, err := h.Repo.UploadImage(c.Request.Context(), token, header.Filename, data, h.directMode(c))
	if err != nil {
		h.failMutation(c, err)
		return
	}
	common.OK(c, gin.H{"url": url})
}

func (h *Handler) failMutation(c *gin.Context, err error) {
	switch {
	case errors.Is(err, prompt.ErrPromptNotFound):
		common.Fail(c, http.StatusNotFound, 40411, "prompt not found")
	case errors.Is(err, prompt.ErrBadCategory):
		common.Fail(c, http.StatusBadRequest, 10016, "unknown category")
	default:
		common.Fail(c, http.StatusBadGateway, 20012, "repository operation failed")
	}
}
