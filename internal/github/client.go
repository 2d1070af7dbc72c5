package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultRawURL  = "https://raw.githubusercontent.com"

	apiVersion = "2022-11-28"

	// idempotent GETs only; mutating calls are never retried here
	getRetries = 2
)

// Client is the sole network boundary to the hosting API. One instance is
// bound to a single owner/repo and bearer token; construction is cheap, so
// request-scoped clients carrying a user token are fine.
type Client struct {
	BaseURL    string
	RawBaseURL string
	Owner      string
	Repo       string
	Token      string
	HTTP       *http.Client
}

func NewClient(owner, repo, token string) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, ErrConfig
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		RawBaseURL: defaultRawURL,
		Owner:      owner,
		Repo:       repo,
		Token:      token,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type File struct {
	Path    string
	SHA     string
	Content string
}

type Commit struct {
	SHA     string
	TreeSHA string
}

type TreeEntry struct {
	Path    string
	Mode    string
	Type    string
	SHA     string
	Content string
	Delete  bool
}

// MarshalJSON keeps the three request shapes apart: a deletion must send an
// explicit null sha, a blob reference sends its sha, and inline text sends
// content only.
func (e TreeEntry) MarshalJSON() ([]byte, error) {
	m := map[string]any{"path": e.Path, "mode": e.Mode, "type": e.Type}
	switch {
	case e.Delete:
		m["sha"] = nil
	case e.SHA != "":
		m["sha"] = e.SHA
	default:
		m["content"] = e.Content
	}
	return json.Marshal(m)
}

type Issue struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	CreatedAt string `json:"created_at"`
	User      struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	CreatedAt string `json:"created_at"`
	User      struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
}

type User struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

func (c *Client) repoURL(format string, args ...any) string {
	return fmt.Sprintf("%s/repos/%s/%s", c.BaseURL, c.Owner, c.Repo) + fmt.Sprintf(format, args...)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

// do issues one request and decodes the JSON response into out (when non-nil).
// GETs get a small linear-backoff retry on 5xx; everything else surfaces the
// first response.
func (c *Client) do(ctx context.Context, method, rawurl string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	retries := 0
	if method == http.MethodGet {
		retries = getRetries
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
		if err != nil {
			return err
		}
		c.setHeaders(req)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 && attempt < retries {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
			_ = resp.Body.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(400 * time.Millisecond * time.Duration(attempt+1)):
			}
			continue
		}

		err = decodeResponse(resp, rawurl, out)
		_ = resp.Body.Close()
		return err
	}
}

func decodeResponse(resp *http.Response, rawurl string, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		var decoded struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &decoded)
		msg := decoded.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: msg, URL: rawurl}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetDefaultBranch resolves the repository's default branch. An inaccessible
// repository is a configuration problem, not a transient one.
func (c *Client) GetDefaultBranch(ctx context.Context) (string, error) {
	var info struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoURL(""), nil, &info); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if info.DefaultBranch == "" {
		return "", fmt.Errorf("%w: repository has no default branch", ErrConfig)
	}
	return info.DefaultBranch, nil
}

func (c *Client) GetBranchHeadSHA(ctx context.Context, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
		SHA string `json:"sha"`
	}
	u := c.repoURL("/git/refs/heads/%s", url.PathEscape(branch))
	if err := c.do(ctx, http.MethodGet, u, nil, &ref); err != nil {
		return "", err
	}
	sha := ref.Object.SHA
	if sha == "" {
		sha = ref.SHA
	}
	if sha == "" {
		return "", fmt.Errorf("github: branch %q has no sha", branch)
	}
	return sha, nil
}

func (c *Client) CreateBranch(ctx context.Context, name, fromSHA string) error {
	in := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": fromSHA,
	}
	return c.do(ctx, http.MethodPost, c.repoURL("/git/refs"), in, nil)
}

// GetFile reads a file through the contents API at the given ref and decodes
// the transport base64.
func (c *Client) GetFile(ctx context.Context, path, ref string) (*File, error) {
	var out struct {
		SHA     string `json:"sha"`
		Content string `json:"content"`
	}
	u := c.repoURL("/contents/%s?ref=%s", escapePath(path), url.QueryEscape(ref))
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, path, ref)
		}
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("github: decode %s: %w", path, err)
	}
	return &File{Path: path, SHA: out.SHA, Content: string(decoded)}, nil
}

// GetRawFile reads from the raw host, bypassing the API contents encoding.
// Used as the fallback read path when the static mirror is stale.
func (c *Client) GetRawFile(ctx context.Context, path, ref string) (string, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/%s", c.RawBaseURL, c.Owner, c.Repo, url.PathEscape(ref), escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s@%s", ErrNotFound, path, ref)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, URL: u}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// PutFile creates or updates a single file through the contents API.
// sha must be the current blob sha when updating, empty when creating.
func (c *Client) PutFile(ctx context.Context, path, content, message, branch, sha string) error {
	in := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if sha != "" {
		in["sha"] = sha
	}
	return c.do(ctx, http.MethodPut, c.repoURL("/contents/%s", escapePath(path)), in, nil)
}

// CreateBlob stores raw content and returns its sha. encoding is "utf-8" or
// "base64" (binary payloads such as images).
func (c *Client) CreateBlob(ctx context.Context, content, encoding string) (string, error) {
	in := map[string]string{"content": content, "encoding": encoding}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, c.repoURL("/git/blobs"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

func (c *Client) GetCommit(ctx context.Context, sha string) (*Commit, error) {
	var out struct {
		SHA  string `json:"sha"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoURL("/git/commits/%s", sha), nil, &out); err != nil {
		return nil, err
	}
	return &Commit{SHA: out.SHA, TreeSHA: out.Tree.SHA}, nil
}

func (c *Client) CreateTree(ctx context.Context, baseTreeSHA string, entries []TreeEntry) (string, error) {
	in := map[string]any{"tree": entries}
	if baseTreeSHA != "" {
		in["base_tree"] = baseTreeSHA
	}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, c.repoURL("/git/trees"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

func (c *Client) CreateCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error) {
	in := map[string]any{
		"message": message,
		"tree":    treeSHA,
		"parents": parents,
	}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, c.repoURL("/git/commits"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// UpdateRef fast-forwards a branch. The server rejects the update when the
// branch moved since the sha was read; that rejection is the compare-and-swap
// the commit protocol builds on.
func (c *Client) UpdateRef(ctx context.Context, branch, sha string) error {
	in := map[string]any{"sha": sha, "force": false}
	u := c.repoURL("/git/refs/heads/%s", url.PathEscape(branch))
	return c.do(ctx, http.MethodPatch, u, in, nil)
}

func (c *Client) CreatePullRequest(ctx context.Context, title, head, base, body string) (*PullRequest, error) {
	in := map[string]string{"title": title, "head": head, "base": base, "body": body}
	var out PullRequest
	if err := c.do(ctx, http.MethodPost, c.repoURL("/pulls"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPullRequests(ctx context.Context) ([]PullRequest, error) {
	var out []PullRequest
	u := c.repoURL("/pulls?state=open&per_page=100")
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MergePullRequest(ctx context.Context, number int) error {
	in := map[string]string{"merge_method": "squash"}
	return c.do(ctx, http.MethodPut, c.repoURL("/pulls/%d/merge", number), in, nil)
}

func (c *Client) CreateIssue(ctx context.Context, title, body string) (*Issue, error) {
	in := map[string]string{"title": title, "body": body}
	var out Issue
	if err := c.do(ctx, http.MethodPost, c.repoURL("/issues"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListIssues returns open issues, optionally filtered to one creator. The
// issues API also reports pull requests; those are dropped here.
func (c *Client) ListIssues(ctx context.Context, creator string) ([]Issue, error) {
	u := c.repoURL("/issues?state=open&per_page=100")
	if creator != "" {
		u += "&creator=" + url.QueryEscape(creator)
	}
	var raw []Issue
	if err := c.do(ctx, http.MethodGet, u, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(raw))
	for _, is := range raw {
		if is.PullRequest != nil {
			continue
		}
		out = append(out, is)
	}
	return out, nil
}

func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var out Issue
	if err := c.do(ctx, http.MethodGet, c.repoURL("/issues/%d", number), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseIssue(ctx context.Context, number int) error {
	in := map[string]string{"state": "closed"}
	return c.do(ctx, http.MethodPatch, c.repoURL("/issues/%d", number), in, nil)
}

// ClosePullRequest declines a pull request without merging.
func (c *Client) ClosePullRequest(ctx context.Context, number int) error {
	in := map[string]string{"state": "closed"}
	return c.do(ctx, http.MethodPatch, c.repoURL("/pulls/%d", number), in, nil)
}

// GetAuthenticatedUser resolves the profile behind the client's token.
func (c *Client) GetAuthenticatedUser(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, c.BaseURL+"/user", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HasWriteAccess reports whether the token behind this client can push to the
// repository.
func (c *Client) HasWriteAccess(ctx context.Context) (bool, error) {
	var info struct {
		Permissions struct {
			Push  bool `json:"push"`
			Admin bool `json:"admin"`
		} `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoURL(""), nil, &info); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.Permissions.Push || info.Permissions.Admin, nil
}

// escapePath escapes each segment but keeps the slashes.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
