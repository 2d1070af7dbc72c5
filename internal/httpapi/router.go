package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/prompthub/prompthub/internal/common"
	"github.com/prompthub/prompthub/internal/httpapi/handlers"
	"github.com/prompthub/prompthub/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	corsCfg := cors.DefaultConfig()
	if len(h.Cfg.CORSOrigins) == 1 && h.Cfg.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = h.Cfg.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	r.Use(cors.New(corsCfg))

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)
	r.GET("/categories", h.Categories)
	r.GET("/prompts", h.ListPrompts)
	r.GET("/prompts/:id", h.GetPrompt)

	r.POST("/auth/github/exchange", h.ExchangeCode)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret, h.Sessions))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/logout", h.Logout)

	authGroup.POST("/submissions", h.CreateSubmission)
	authGroup.GET("/submissions/mine", h.MySubmissions)
	authGroup.DELETE("/submissions/:number", h.WithdrawSubmission)

	writeGroup := authGroup.Group("/")
	writeGroup.Use(middleware.WriteRequired())
	writeGroup.POST("/prompts", h.CreatePrompt)
	writeGroup.PUT("/prompts/:id", h.UpdatePrompt)
	writeGroup.DELETE("/prompts/:id", h.DeletePrompt)
	writeGroup.POST("/prompts/batch-delete", h.BatchDeletePrompts)
	writeGroup.POST("/images", h.UploadImage)

	writeGroup.GET("/admin/submissions", h.AdminSubmissions)
	writeGroup.POST("/admin/submissions/:number/approve", h.ApproveSubmission)
	writeGroup.POST("/admin/submissions/:number/reject", h.RejectSubmission)
	writeGroup.GET("/admin/jobs/:id", h.GetJob)

	return r
}
