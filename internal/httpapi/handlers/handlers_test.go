package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/prompthub/prompthub/internal/auth"
	"github.com/prompthub/prompthub/internal/cache"
	"github.com/prompthub/prompthub/internal/config"
	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/github/githubtest"
	"github.com/prompthub/prompthub/internal/httpapi"
	"github.com/prompthub/prompthub/internal/httpapi/handlers"
	"github.com/prompthub/prompthub/internal/models"
	"github.com/prompthub/prompthub/internal/prompt"
	"github.com/prompthub/prompthub/internal/shard"
)

type fakeQueue struct {
	published []string
}

func (q *fakeQueue) PublishReviewJob(_ context.Context, jobID string) error {
	q.published = append(q.published, jobID)
	return nil
}

type env struct {
	fake   *githubtest.Fake
	oauth  *httptest.Server
	router *gin.Engine
	queue  *fakeQueue
	db     *gorm.DB
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := githubtest.New()
	t.Cleanup(fake.Close)

	// empty but valid shard layout
	ix := shard.NewIndex(8)
	files := map[string]string{}
	raw, _ := json.Marshal(ix)
	files["public/data/prompts/index.json"] = string(raw)
	for i := 0; i < 8; i++ {
		raw, _ := json.Marshal(&shard.Data{ShardID: i})
		files[shard.PathFor("public/data/prompts", i)] = string(raw)
	}
	fake.Seed(files)

	oauth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_oauth_token"})
	}))
	t.Cleanup(oauth.Close)

	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&auth.Session{}, &prompt.ReviewJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	cfg := config.Config{
		Port:          "0",
		JWTSecret:     "jwt-secret",
		SessionSecret: "session-secret",
		GitHubOwner:   fake.Owner,
		GitHubRepo:    fake.Repo,
		GitHubToken:   "bot-token",
		DataDir:       "public/data/prompts",
		ContentBranch: "main",
		LegacyPath:    "public/data/prompts.json",
		ShardCount:    8,
		Categories:    []string{"写作", "编程"},
		CacheTTLSecs:  60,
		CORSOrigins:   []string{"*"},
	}

	factory := func(token string) (*github.Client, error) {
		c, err := github.NewClient(fake.Owner, fake.Repo, token)
		if err != nil {
			return nil, err
		}
		c.BaseURL = fake.URL()
		c.RawBaseURL = fake.RawURL()
		return c, nil
	}

	queue := &fakeQueue{}
	h, err := handlers.NewHandler(db, cfg, cache.NewMemory(), queue, factory)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	h.OAuth.TokenURL = oauth.URL

	return &env{fake: fake, oauth: oauth, router: httpapi.NewRouter(h), queue: queue, db: db}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out envelope
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (e *env) login(t *testing.T) string {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/auth/github/exchange", "", map[string]string{"code": "any"})
	if w.Code != http.StatusOK {
		t.Fatalf("exchange status %d: %s", w.Code, w.Body.String())
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("no token in exchange response: %s", out.Data)
	}
	return data.Token
}

func TestPingAndPublicReads(t *testing.T) {
	e := newEnv(t)

	w, out := e.do(t, http.MethodGet, "/ping", "", nil)
	if w.Code != http.StatusOK || out.Code != 0 {
		t.Fatalf("ping: %d %+v", w.Code, out)
	}

	w, out = e.do(t, http.MethodGet, "/prompts", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("prompts: %d %s", w.Code, w.Body.String())
	}
	var data models.PromptsData
	if err := json.Unmarshal(out.Data, &data); err != nil {
		t.Fatalf("decode prompts: %v", err)
	}
	if len(data.Prompts) != 0 {
		t.Fatalf("expected empty collection, got %d", len(data.Prompts))
	}

	w, _ = e.do(t, http.MethodGet, "/categories", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("categories: %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)

	w, out := e.do(t, http.MethodGet, "/me", "", nil)
	if w.Code != http.StatusUnauthorized || out.Code != 40100 {
		t.Fatalf("missing token: %d %+v", w.Code, out)
	}

	w, _ = e.do(t, http.MethodGet, "/me", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w, out := e.do(t, http.MethodGet, "/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}
	var me struct {
		Login    string `json:"login"`
		CanWrite bool   `json:"canWrite"`
	}
	if err := json.Unmarshal(out.Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Login != "tester" || !me.CanWrite {
		t.Fatalf("me = %+v", me)
	}

	w, _ = e.do(t, http.MethodPost, "/logout", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: %d", w.Code)
	}
	w, _ = e.do(t, http.MethodGet, "/me", token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("session survived logout: %d", w.Code)
	}
}

func TestCreatePromptDirect(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w, out := e.do(t, http.MethodPost, "/prompts?mode=direct", token, map[string]any{
		"title":    "标题",
		"category": "编程",
		"prompt":   "写一个测试",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out.Data, &res); err != nil || res.ID == "" {
		t.Fatalf("no id in response: %s", out.Data)
	}

	// visible through the read path
	w, out = e.do(t, http.MethodGet, "/prompts/"+res.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read back: %d %s", w.Code, w.Body.String())
	}
	var p models.Prompt
	_ = json.Unmarshal(out.Data, &p)
	if p.Title != "标题" || p.Author == nil || p.Author.Username != "tester" {
		t.Fatalf("read back wrong: %+v", p)
	}
}

func TestCreatePromptRejectsBadCategory(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w, out := e.do(t, http.MethodPost, "/prompts?mode=direct", token, map[string]any{
		"title":    "t",
		"category": "不存在",
		"prompt":   "p",
	})
	if w.Code != http.StatusBadRequest || out.Code != 10016 {
		t.Fatalf("bad category: %d %+v", w.Code, out)
	}
}

func TestSubmissionFlowThroughIssues(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w, _ := e.do(t, http.MethodPost, "/submissions", token, map[string]any{
		"action":   "create",
		"title":    "投稿",
		"category": "写作",
		"prompt":   "内容",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}

	w, out := e.do(t, http.MethodGet, "/submissions/mine", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mine: %d", w.Code)
	}
	var subs []models.PendingSubmission
	if err := json.Unmarshal(out.Data, &subs); err != nil || len(subs) != 1 {
		t.Fatalf("mine = %s (%v)", out.Data, err)
	}
	if subs[0].Action != models.ActionCreate || subs[0].Title != "投稿" {
		t.Fatalf("submission fields: %+v", subs[0])
	}

	// admin listing sees it too
	w, out = e.do(t, http.MethodGet, "/admin/submissions", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin list: %d", w.Code)
	}
	_ = json.Unmarshal(out.Data, &subs)
	if len(subs) != 1 {
		t.Fatalf("admin sees %d submissions", len(subs))
	}
}

func TestApproveEnqueuesJob(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w, _ := e.do(t, http.MethodPost, "/submissions", token, map[string]any{
		"action":   "create",
		"title":    "排队",
		"category": "写作",
		"prompt":   "内容",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d", w.Code)
	}

	w, out := e.do(t, http.MethodPost, "/admin/submissions/1/approve", token, map[string]string{"type": "issue"})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(out.Data, &res); err != nil || res.JobID == "" {
		t.Fatalf("no job id: %s", out.Data)
	}
	if len(e.queue.published) != 1 || e.queue.published[0] != res.JobID {
		t.Fatalf("queue = %v", e.queue.published)
	}

	w, out = e.do(t, http.MethodGet, "/admin/jobs/"+res.JobID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("job status: %d", w.Code)
	}
	var job prompt.ReviewJob
	_ = json.Unmarshal(out.Data, &job)
	if job.Status != prompt.JobQueued || job.TargetNumber != 1 {
		t.Fatalf("job = %+v", job)
	}
}

func TestWriteAccessRequired(t *testing.T) {
	e := newEnv(t)

	// forge a read-only session directly
	sealer, _ := auth.NewSealer("session-secret")
	store := auth.NewSessionStore(e.db, sealer)
	sess, err := store.Create(context.Background(), "reader", "", "tok", false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	token, _ := auth.SignJWT("jwt-secret", sess.SessionID, "reader")

	w, out := e.do(t, http.MethodPost, "/prompts?mode=direct", token, map[string]any{
		"title": "t", "category": "写作", "prompt": "p",
	})
	if w.Code != http.StatusForbidden || out.Code != 40301 {
		t.Fatalf("read-only session wrote: %d %+v", w.Code, out)
	}
}
