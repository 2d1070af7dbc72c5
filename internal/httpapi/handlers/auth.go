package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prompthub/prompthub/internal/auth"
	"github.com/prompthub/prompthub/internal/common"
	"github.com/prompthub/prompthub/internal/httpapi/middleware"
)

type exchangeReq struct {
	Code string `json:"code"`
}

// ExchangeCode completes the OAuth flow server side: code -> access token,
// profile + permission probe, sealed session row, signed JWT back to the
// client. The upstream token never leaves the server.
func (h *Handler) ExchangeCode(c *gin.Context) {
	var req exchangeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		common.Fail(c, http.StatusBadRequest, 10030, "code required")
		return
	}

	ctx := c.Request.Context()
	accessToken, err := h.OAuth.Exchange(ctx, req.Code)
	if err != nil {
		common.Fail(c, http.StatusBadGateway, 20030, "oauth exchange failed")
		return
	}

	gh, err := h.Repo.NewClient(accessToken)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50030, "client setup failed")
		return
	}
	user, err := gh.GetAuthenticatedUser(ctx)
	if err != nil {
		common.Fail(c, http.StatusBadGateway, 20031, "failed to load profile")
		return
	}
	canWrite, err := gh.HasWriteAccess(ctx)
	if err != nil {
		canWrite = false
	}

	sess, err := h.Sessions.Create(ctx, user.Login, user.AvatarURL, accessToken, canWrite)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50031, "failed to create session")
		return
	}
	_ = h.Sessions.PurgeExpired(ctx)

	token, err := auth.SignJWT(h.Cfg.JWTSecret, sess.SessionID, sess.Login)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50032, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"token": token,
		"user": gin.H{
			"login":     user.Login,
			"name":      user.Name,
			"avatarUrl": user.AvatarURL,
			"canWrite":  canWrite,
		},
		"expiresAt": sess.ExpiresAt,
	})
}

func (h *Handler) Me(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "no session")
		return
	}
	common.OK(c, gin.H{
		"login":     sess.Login,
		"avatarUrl": sess.AvatarURL,
		"canWrite":  sess.CanWrite,
		"expiresAt": sess.ExpiresAt,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "no session")
		return
	}
	if err := h.Sessions.Delete(c.Request.Context(), sess.SessionID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50033, "failed to delete session")
		return
	}
	common.OK(c, gin.H{"status": "logged_out"})
}
