// Package githubtest provides an in-memory stand-in for the GitHub data API,
// just enough surface for the client and the commit protocol: blobs, trees,
// commits, CAS ref updates, contents reads, issues and pull requests.
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

type commit struct {
	SHA     string
	Tree    string
	Parents []string
	Message string
}

// CommitRecord is what tests assert against: one created commit and the paths
// it changed relative to its first parent.
type CommitRecord struct {
	SHA     string
	Message string
	Files   []string
}

type issue struct {
	Number  int
	Title   string
	Body    string
	State   string
	Creator string
}

type pull struct {
	Number int
	Title  string
	Body   string
	State  string
	Head   string
	Base   string
	Merged bool
}

// Fake is a single-repo GitHub double. The zero value is not usable; call New.
type Fake struct {
	Owner         string
	Repo          string
	DefaultBranch string

	mu      sync.Mutex
	seq     int
	blobs   map[string]string            // sha -> content
	trees   map[string]map[string]string // sha -> path -> blob sha
	commits map[string]commit
	refs    map[string]string // branch -> commit sha
	issues  []*issue
	pulls   []*pull
	records []CommitRecord

	// FailRefUpdates makes the next N ref updates lose the race artificially.
	FailRefUpdates int

	srv *httptest.Server
}

func New() *Fake {
	f := &Fake{
		Owner:         "octo",
		Repo:          "prompts",
		DefaultBranch: "main",
		blobs:         map[string]string{},
		trees:         map[string]map[string]string{},
		commits:       map[string]commit{},
		refs:          map[string]string{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))

	// empty root commit so every branch has a head
	f.mu.Lock()
	tree := f.putTree(map[string]string{})
	root := f.putCommit("initial", tree, nil, false)
	f.refs[f.DefaultBranch] = root
	f.mu.Unlock()
	return f
}

func (f *Fake) Close()      { f.srv.Close() }
func (f *Fake) URL() string { return f.srv.URL }

// RawURL is the base for raw-content reads (client RawBaseURL).
func (f *Fake) RawURL() string { return f.srv.URL + "/raw" }

// Seed commits the given files to the default branch.
func (f *Fake) Seed(files map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.refs[f.DefaultBranch]
	merged := map[string]string{}
	for p, b := range f.trees[f.commits[head].Tree] {
		merged[p] = b
	}
	for p, content := range files {
		merged[p] = f.putBlob(content)
	}
	tree := f.putTree(merged)
	f.refs[f.DefaultBranch] = f.putCommit("seed", tree, []string{head}, false)
}

// FileAt returns the content of path at the branch head, and whether it exists.
func (f *Fake) FileAt(branch, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head, ok := f.refs[branch]
	if !ok {
		return "", false
	}
	blob, ok := f.trees[f.commits[head].Tree][path]
	if !ok {
		return "", false
	}
	return f.blobs[blob], true
}

// Commits returns every commit created through the API, oldest first.
func (f *Fake) Commits() []CommitRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CommitRecord, len(f.records))
	copy(out, f.records)
	return out
}

// OpenIssues returns the numbers of issues still open.
func (f *Fake) OpenIssues() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, is := range f.issues {
		if is.State == "open" {
			out = append(out, is.Number)
		}
	}
	return out
}

// AddIssue seeds an open issue and returns its number.
func (f *Fake) AddIssue(title, body, creator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.issues) + len(f.pulls) + 1
	f.issues = append(f.issues, &issue{Number: n, Title: title, Body: body, State: "open", Creator: creator})
	return n
}

func (f *Fake) nextSHA(kind string) string {
	f.seq++
	sum := sha1.Sum([]byte(fmt.Sprintf("%s-%d", kind, f.seq)))
	return hex.EncodeToString(sum[:])
}

func (f *Fake) putBlob(content string) string {
	sha := f.nextSHA("blob:" + content)
	f.blobs[sha] = content
	return sha
}

func (f *Fake) putTree(files map[string]string) string {
	sha := f.nextSHA("tree")
	f.trees[sha] = files
	return sha
}

func (f *Fake) putCommit(message, tree string, parents []string, record bool) string {
	sha := f.nextSHA("commit")
	f.commits[sha] = commit{SHA: sha, Tree: tree, Parents: parents, Message: message}
	if record {
		var changed []string
		base := map[string]string{}
		if len(parents) > 0 {
			base = f.trees[f.commits[parents[0]].Tree]
		}
		for p, blob := range f.trees[tree] {
			if base[p] != blob {
				changed = append(changed, p)
			}
		}
		for p := range base {
			if _, ok := f.trees[tree][p]; !ok {
				changed = append(changed, p)
			}
		}
		f.records = append(f.records, CommitRecord{SHA: sha, Message: message, Files: changed})
	}
	return sha
}

// resolveRef maps a branch name or commit sha to a commit sha.
func (f *Fake) resolveRef(ref string) (string, bool) {
	if sha, ok := f.refs[ref]; ok {
		return sha, true
	}
	if _, ok := f.commits[ref]; ok {
		return ref, true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func issueJSON(is *issue) map[string]any {
	return map[string]any{
		"number":     is.Number,
		"title":      is.Title,
		"body":       is.Body,
		"state":      is.State,
		"html_url":   fmt.Sprintf("https://example.test/issues/%d", is.Number),
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"user":       map[string]any{"login": is.Creator, "avatar_url": ""},
	}
}

func pullJSON(pr *pull) map[string]any {
	return map[string]any{
		"number":     pr.Number,
		"title":      pr.Title,
		"body":       pr.Body,
		"state":      pr.State,
		"html_url":   fmt.Sprintf("https://example.test/pull/%d", pr.Number),
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"user":       map[string]any{"login": "tester", "avatar_url": ""},
	}
}

func (f *Fake) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path

	if path == "/user" {
		writeJSON(w, 200, map[string]any{"login": "tester", "name": "Tester", "avatar_url": "", "html_url": ""})
		return
	}

	if strings.HasPrefix(path, "/raw/") {
		f.handleRaw(w, r, strings.TrimPrefix(path, "/raw/"))
		return
	}

	prefix := "/repos/" + f.Owner + "/" + f.Repo
	if !strings.HasPrefix(path, prefix) {
		apiErr(w, 404, "Not Found")
		return
	}
	rest := strings.TrimPrefix(path, prefix)

	switch {
	case rest == "":
		writeJSON(w, 200, map[string]any{
			"default_branch": f.DefaultBranch,
			"permissions":    map[string]bool{"push": true, "admin": false},
		})

	case strings.HasPrefix(rest, "/git/refs/heads/") && r.Method == http.MethodGet:
		branch := strings.TrimPrefix(rest, "/git/refs/heads/")
		sha, ok := f.refs[branch]
		if !ok {
			apiErr(w, 404, "Not Found")
			return
		}
		writeJSON(w, 200, map[string]any{"object": map[string]string{"sha": sha}})

	case strings.HasPrefix(rest, "/git/refs/heads/") && r.Method == http.MethodPatch:
		branch := strings.TrimPrefix(rest, "/git/refs/heads/")
		var in struct {
			SHA   string `json:"sha"`
			Force bool   `json:"force"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		cur, ok := f.refs[branch]
		if !ok {
			apiErr(w, 404, "Not Found")
			return
		}
		if f.FailRefUpdates > 0 {
			f.FailRefUpdates--
			apiErr(w, 422, "Update is not a fast forward")
			return
		}
		c, ok := f.commits[in.SHA]
		if !ok {
			apiErr(w, 422, "Object does not exist")
			return
		}
		if !in.Force {
			ff := false
			for _, p := range c.Parents {
				if p == cur {
					ff = true
				}
			}
			if !ff {
				apiErr(w, 422, "Update is not a fast forward")
				return
			}
		}
		f.refs[branch] = in.SHA
		writeJSON(w, 200, map[string]any{"object": map[string]string{"sha": in.SHA}})

	case rest == "/git/refs" && r.Method == http.MethodPost:
		var in struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		branch := strings.TrimPrefix(in.Ref, "refs/heads/")
		if _, exists := f.refs[branch]; exists {
			apiErr(w, 422, "Reference already exists")
			return
		}
		if _, ok := f.commits[in.SHA]; !ok {
			apiErr(w, 422, "Object does not exist")
			return
		}
		f.refs[branch] = in.SHA
		writeJSON(w, 201, map[string]any{"ref": in.Ref})

	case rest == "/git/blobs" && r.Method == http.MethodPost:
		var in struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		content := in.Content
		if in.Encoding == "base64" {
			raw, err := base64.StdEncoding.DecodeString(in.Content)
			if err != nil {
				apiErr(w, 422, "invalid base64")
				return
			}
			content = string(raw)
		}
		writeJSON(w, 201, map[string]string{"sha": f.putBlob(content)})

	case rest == "/git/trees" && r.Method == http.MethodPost:
		var in struct {
			BaseTree string `json:"base_tree"`
			Tree     []struct {
				Path    string          `json:"path"`
				SHA     json.RawMessage `json:"sha"`
				Content string          `json:"content"`
			} `json:"tree"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		merged := map[string]string{}
		if in.BaseTree != "" {
			base, ok := f.trees[in.BaseTree]
			if !ok {
				apiErr(w, 404, "Not Found")
				return
			}
			for p, b := range base {
				merged[p] = b
			}
		}
		for _, e := range in.Tree {
			switch {
			case string(e.SHA) == "null":
				// explicit null sha is a deletion
				delete(merged, e.Path)
			case len(e.SHA) > 0:
				var sha string
				_ = json.Unmarshal(e.SHA, &sha)
				merged[e.Path] = sha
			default:
				merged[e.Path] = f.putBlob(e.Content)
			}
		}
		writeJSON(w, 201, map[string]string{"sha": f.putTree(merged)})

	case strings.HasPrefix(rest, "/git/commits/") && r.Method == http.MethodGet:
		sha := strings.TrimPrefix(rest, "/git/commits/")
		c, ok := f.commits[sha]
		if !ok {
			apiErr(w, 404, "Not Found")
			return
		}
		writeJSON(w, 200, map[string]any{"sha": c.SHA, "tree": map[string]string{"sha": c.Tree}})

	case rest == "/git/commits" && r.Method == http.MethodPost:
		var in struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if _, ok := f.trees[in.Tree]; !ok {
			apiErr(w, 404, "Not Found")
			return
		}
		sha := f.putCommit(in.Message, in.Tree, in.Parents, true)
		writeJSON(w, 201, map[string]string{"sha": sha})

	case strings.HasPrefix(rest, "/contents/"):
		f.handleContents(w, r, strings.TrimPrefix(rest, "/contents/"))

	case rest == "/issues" && r.Method == http.MethodPost:
		var in struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		n := len(f.issues) + len(f.pulls) + 1
		// created issues belong to the fake's single authenticated user
		is := &issue{Number: n, Title: in.Title, Body: in.Body, State: "open", Creator: "tester"}
		f.issues = append(f.issues, is)
		writeJSON(w, 201, issueJSON(is))

	case rest == "/issues" && r.Method == http.MethodGet:
		creator := r.URL.Query().Get("creator")
		out := []map[string]any{}
		for _, is := range f.issues {
			if is.State != "open" {
				continue
			}
			if creator != "" && is.Creator != creator {
				continue
			}
			out = append(out, issueJSON(is))
		}
		writeJSON(w, 200, out)

	case strings.HasPrefix(rest, "/issues/") && r.Method == http.MethodGet:
		n, _ := strconv.Atoi(strings.TrimPrefix(rest, "/issues/"))
		for _, is := range f.issues {
			if is.Number == n {
				writeJSON(w, 200, issueJSON(is))
				return
			}
		}
		apiErr(w, 404, "Not Found")

	case strings.HasPrefix(rest, "/issues/") && r.Method == http.MethodPatch:
		n, _ := strconv.Atoi(strings.TrimPrefix(rest, "/issues/"))
		for _, is := range f.issues {
			if is.Number == n {
				is.State = "closed"
				writeJSON(w, 200, issueJSON(is))
				return
			}
		}
		// closing a PR goes through the issues endpoint too
		for _, pr := range f.pulls {
			if pr.Number == n {
				pr.State = "closed"
				writeJSON(w, 200, pullJSON(pr))
				return
			}
		}
		apiErr(w, 404, "Not Found")

	case rest == "/pulls" && r.Method == http.MethodPost:
		var in struct {
			Title string `json:"title"`
			Head  string `json:"head"`
			Base  string `json:"base"`
			Body  string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if _, ok := f.refs[in.Head]; !ok {
			apiErr(w, 422, "head invalid")
			return
		}
		n := len(f.issues) + len(f.pulls) + 1
		pr := &pull{Number: n, Title: in.Title, Body: in.Body, State: "open", Head: in.Head, Base: in.Base}
		f.pulls = append(f.pulls, pr)
		writeJSON(w, 201, pullJSON(pr))

	case rest == "/pulls" && r.Method == http.MethodGet:
		out := []map[string]any{}
		for _, pr := range f.pulls {
			if pr.State == "open" {
				out = append(out, pullJSON(pr))
			}
		}
		writeJSON(w, 200, out)

	case strings.HasPrefix(rest, "/pulls/") && r.Method == http.MethodPatch:
		n, _ := strconv.Atoi(strings.TrimPrefix(rest, "/pulls/"))
		for _, pr := range f.pulls {
			if pr.Number == n {
				pr.State = "closed"
				writeJSON(w, 200, pullJSON(pr))
				return
			}
		}
		apiErr(w, 404, "Not Found")

	case strings.HasSuffix(rest, "/merge") && strings.HasPrefix(rest, "/pulls/") && r.Method == http.MethodPut:
		num := strings.TrimSuffix(strings.TrimPrefix(rest, "/pulls/"), "/merge")
		n, _ := strconv.Atoi(num)
		for _, pr := range f.pulls {
			if pr.Number != n {
				continue
			}
			if pr.State != "open" {
				apiErr(w, 405, "Pull Request is not mergeable")
				return
			}
			headSHA := f.refs[pr.Head]
			baseSHA := f.refs[pr.Base]
			merged := f.putCommit("squash: "+pr.Title, f.commits[headSHA].Tree, []string{baseSHA}, true)
			f.refs[pr.Base] = merged
			pr.State = "closed"
			pr.Merged = true
			writeJSON(w, 200, map[string]any{"sha": merged, "merged": true})
			return
		}
		apiErr(w, 404, "Not Found")

	default:
		apiErr(w, 404, "Not Found")
	}
}

func (f *Fake) handleContents(w http.ResponseWriter, r *http.Request, path string) {
	switch r.Method {
	case http.MethodGet:
		ref := r.URL.Query().Get("ref")
		if ref == "" {
			ref = f.DefaultBranch
		}
		sha, ok := f.resolveRef(ref)
		if !ok {
			apiErr(w, 404, "Not Found")
			return
		}
		blob, ok := f.trees[f.commits[sha].Tree][path]
		if !ok {
			apiErr(w, 404, "Not Found")
			return
		}
		writeJSON(w, 200, map[string]string{
			"sha":     blob,
			"content": base64.StdEncoding.EncodeToString([]byte(f.blobs[blob])),
		})

	case http.MethodPut:
		var in struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
			SHA     string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		branch := in.Branch
		if branch == "" {
			branch = f.DefaultBranch
		}
		head, ok := f.refs[branch]
		if !ok {
			apiErr(w, 404, "Not Found")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			apiErr(w, 422, "invalid base64")
			return
		}
		merged := map[string]string{}
		for p, b := range f.trees[f.commits[head].Tree] {
			merged[p] = b
		}
		merged[path] = f.putBlob(string(raw))
		tree := f.putTree(merged)
		f.refs[branch] = f.putCommit(in.Message, tree, []string{head}, true)
		writeJSON(w, 201, map[string]any{"content": map[string]string{"path": path}})

	default:
		apiErr(w, 404, "Not Found")
	}
}

// handleRaw serves raw content: raw/{owner}/{repo}/{ref}/{path...}
func (f *Fake) handleRaw(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] != f.Owner || parts[1] != f.Repo {
		http.NotFound(w, r)
		return
	}
	refAndPath := strings.SplitN(parts[2], "/", 2)
	if len(refAndPath) != 2 {
		http.NotFound(w, r)
		return
	}
	sha, ok := f.resolveRef(refAndPath[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	blob, ok := f.trees[f.commits[sha].Tree][refAndPath[1]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(f.blobs[blob]))
}
