package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/prompthub/prompthub/internal/auth"
	"github.com/prompthub/prompthub/internal/cache"
	"github.com/prompthub/prompthub/internal/common"
	"github.com/prompthub/prompthub/internal/config"
	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/prompt"
	"github.com/prompthub/prompthub/internal/shard"
)

// ReviewQueue enqueues approval work for the worker process.
type ReviewQueue interface {
	PublishReviewJob(ctx context.Context, jobID string) error
}

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Repo     *prompt.Repository
	Jobs     *prompt.JobRepo
	Sessions *auth.SessionStore
	OAuth    *auth.OAuthExchanger
	Queue    ReviewQueue
}

func NewHandler(db *gorm.DB, cfg config.Config, backend cache.Backend, queue ReviewQueue, newClient prompt.ClientFactory) (*Handler, error) {
	sealer, err := auth.NewSealer(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}

	if newClient == nil {
		newClient = func(token string) (*github.Client, error) {
			return github.NewClient(cfg.GitHubOwner, cfg.GitHubRepo, token)
		}
	}

	botClient, err := newClient(cfg.GitHubToken)
	if err != nil {
		return nil, err
	}
	store := shard.NewStore(botClient, cfg.StaticBaseURL, cfg.DataDir, cfg.LegacyPath, cfg.ContentBranch)

	repo := &prompt.Repository{
		NewClient:  newClient,
		Store:      store,
		Cache:      cache.NewSnapshot(backend, cfg.CacheTTL()),
		Categories: cfg.Categories,
		ShardCount: cfg.ShardCount,
	}

	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Repo:     repo,
		Jobs:     prompt.NewJobRepo(db),
		Sessions: auth.NewSessionStore(db, sealer),
		OAuth:    auth.NewOAuthExchanger(cfg.GHClientID, cfg.GHClientSecret, cfg.OAuthRedirect),
		Queue:    queue,
	}, nil
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}

func (h *Handler) Categories(c *gin.Context) {
	common.OK(c, h.Cfg.Categories)
}
