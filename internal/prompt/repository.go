package prompt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prompthub/prompthub/internal/cache"
	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/models"
	"github.com/prompthub/prompthub/internal/shard"
)

var (
	// ErrPromptNotFound marks a delete/update target that no longer exists.
	// Never swallowed: the caller is told instead of the operation quietly
	// committing nothing.
	ErrPromptNotFound = errors.New("prompt: not found")

	// ErrBadCategory rejects writes outside the configured taxonomy.
	ErrBadCategory = errors.New("prompt: unknown category")
)

// ClientFactory builds a request-scoped version-control client around a
// bearer token.
type ClientFactory func(token string) (*github.Client, error)

// Repository orchestrates every mutation: shard routing against the live
// index, index+shard read-modify-write inside one atomic commit, and the
// choice between committing straight to the default branch or staging on a
// review branch behind a pull request.
type Repository struct {
	NewClient  ClientFactory
	Store      *shard.Store
	Cache      *cache.Snapshot
	Categories []string
	ShardCount int // bootstrap value when the index self-heals
}

func (r *Repository) validCategory(c string) bool {
	if len(r.Categories) == 0 {
		return true
	}
	for _, v := range r.Categories {
		if v == c {
			return true
		}
	}
	return false
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// prepareBranch resolves the default branch and, in review mode, cuts a
// uniquely named branch from its head. Unique names keep retried calls from
// colliding with their own leftovers.
func (r *Repository) prepareBranch(ctx context.Context, gh *github.Client, slug string, direct bool) (base, branch string, err error) {
	base, err = gh.GetDefaultBranch(ctx)
	if err != nil {
		return "", "", err
	}
	if direct {
		return base, base, nil
	}
	branch = fmt.Sprintf("%s-%d", slug, time.Now().UnixMilli())
	sha, err := gh.GetBranchHeadSHA(ctx, base)
	if err != nil {
		return "", "", err
	}
	if err := gh.CreateBranch(ctx, branch, sha); err != nil {
		return "", "", err
	}
	return base, branch, nil
}

// readIndexAt fetches the index at a commit, healing an absent or corrupt
// document to a fresh empty one.
func (r *Repository) readIndexAt(ctx context.Context, gh *github.Client, ref string) (*shard.Index, error) {
	f, err := gh.GetFile(ctx, r.Store.IndexPath(), ref)
	if err != nil {
		if github.IsNotFound(err) {
			return shard.NewIndex(r.ShardCount), nil
		}
		return nil, err
	}
	return shard.ParseIndex(f.Content, r.ShardCount), nil
}

// readShardAt fetches one shard at a commit; absent shards start empty,
// corrupt ones are refused (healing a shard would drop records).
func (r *Repository) readShardAt(ctx context.Context, gh *github.Client, ref string, id int) (*shard.Data, error) {
	f, err := gh.GetFile(ctx, r.Store.ShardPath(id), ref)
	if err != nil {
		if github.IsNotFound(err) {
			return &shard.Data{ShardID: id}, nil
		}
		return nil, err
	}
	var sd shard.Data
	if uerr := json.Unmarshal([]byte(f.Content), &sd); uerr != nil {
		return nil, fmt.Errorf("prompt: shard %d corrupt: %w", id, uerr)
	}
	sd.ShardID = id
	return &sd, nil
}

func marshalDoc(v any) string {
	raw, _ := json.MarshalIndent(v, "", "  ")
	return string(raw)
}

func (r *Repository) repoURL(gh *github.Client) string {
	return fmt.Sprintf("https://github.com/%s/%s", gh.Owner, gh.Repo)
}

// Add writes a new prompt into its hash-assigned shard and registers it in
// the index, both in one commit. Review mode stages the commit on a branch
// and opens a pull request carrying the submission envelope.
func (r *Repository) Add(ctx context.Context, token string, item models.Prompt, direct bool) (string, error) {
	if !r.validCategory(item.Category) {
		return "", fmt.Errorf("%w: %s", ErrBadCategory, item.Category)
	}
	gh, err := r.NewClient(token)
	if err != nil {
		return "", err
	}
	base, branch, err := r.prepareBranch(ctx, gh, "prompt-add-"+item.ID, direct)
	if err != nil {
		return "", err
	}

	_, err = gh.CommitFiles(ctx, branch, func(ctx context.Context, headSHA string) ([]github.FileChange, error) {
		ix, err := r.readIndexAt(ctx, gh, headSHA)
		if err != nil {
			return nil, err
		}
		shardID := shard.ShardOf(item.ID, ix.ShardCount)
		sd, err := r.readShardAt(ctx, gh, headSHA, shardID)
		if err != nil {
			return nil, err
		}

		// newest first
		sd.Prompts = append([]models.Prompt{item}, sd.Prompts...)
		ix.Track(item.ID, item.Category, shardID)

		return []github.FileChange{
			{Path: r.Store.IndexPath(), Content: marshalDoc(ix)},
			{Path: r.Store.ShardPath(shardID), Content: marshalDoc(sd)},
		}, nil
	}, "feat: add prompt "+item.ID)
	if err != nil {
		return "", err
	}

	if direct {
		r.Cache.Patch(ctx, func(data *models.PromptsData) {
			data.Prompts = append([]models.Prompt{item}, data.Prompts...)
		})
		return r.repoURL(gh), nil
	}

	pr, err := gh.CreatePullRequest(ctx, prPrefixAdd+" "+item.Title, branch, base,
		EncodeSubmissionBody("New Prompt Submission", item, ""))
	if err != nil {
		return "", err
	}
	return pr.HTMLURL, nil
}

// Update mutates a prompt in place. The shard assignment never moves (pure
// function of the id); a category change only rewires the index's category
// indirection.
func (r *Repository) Update(ctx context.Context, token, id string, mutate func(models.Prompt) models.Prompt, direct bool) (string, error) {
	gh, err := r.NewClient(token)
	if err != nil {
		return "", err
	}
	base, branch, err := r.prepareBranch(ctx, gh, "prompt-edit-"+id, direct)
	if err != nil {
		return "", err
	}

	var updated models.Prompt
	_, err = gh.CommitFiles(ctx, branch, func(ctx context.Context, headSHA string) ([]github.FileChange, error) {
		ix, err := r.readIndexAt(ctx, gh, headSHA)
		if err != nil {
			return nil, err
		}
		shardID := shard.ShardOf(id, ix.ShardCount)
		sd, err := r.readShardAt(ctx, gh, headSHA, shardID)
		if err != nil {
			return nil, err
		}

		pos := -1
		for i := range sd.Prompts {
			if sd.Prompts[i].ID == id {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, id)
		}

		old := sd.Prompts[pos]
		next := mutate(old)
		next.ID = id
		next.UpdatedAt = nowISO()
		if !r.validCategory(next.Category) {
			return nil, fmt.Errorf("%w: %s", ErrBadCategory, next.Category)
		}
		sd.Prompts[pos] = next
		ix.Recategorize(id, old.Category, next.Category, shardID)
		updated = next

		return []github.FileChange{
			{Path: r.Store.ShardPath(shardID), Content: marshalDoc(sd)},
			{Path: r.Store.IndexPath(), Content: marshalDoc(ix)},
		}, nil
	}, "feat: update prompt "+id)
	if err != nil {
		return "", err
	}

	if direct {
		r.Cache.Patch(ctx, func(data *models.PromptsData) {
			for i := range data.Prompts {
				if data.Prompts[i].ID == id {
					data.Prompts[i] = updated
					return
				}
			}
		})
		return r.repoURL(gh), nil
	}

	pr, err := gh.CreatePullRequest(ctx, prPrefixUpdate+" "+updated.Title, branch, base,
		EncodeSubmissionBody("Update Prompt Request", updated, id))
	if err != nil {
		return "", err
	}
	return pr.HTMLURL, nil
}

// Delete removes a prompt from its shard and every index membership in one
// commit. A missing target is ErrPromptNotFound.
func (r *Repository) Delete(ctx context.Context, token, id string, direct bool) (string, error) {
	gh, err := r.NewClient(token)
	if err != nil {
		return "", err
	}
	base, branch, err := r.prepareBranch(ctx, gh, "prompt-delete-"+id, direct)
	if err != nil {
		return "", err
	}

	_, err = gh.CommitFiles(ctx, branch, func(ctx context.Context, headSHA string) ([]github.FileChange, error) {
		ix, err := r.readIndexAt(ctx, gh, headSHA)
		if err != nil {
			return nil, err
		}
		shardID := shard.ShardOf(id, ix.ShardCount)
		sd, err := r.readShardAt(ctx, gh, headSHA, shardID)
		if err != nil {
			return nil, err
		}

		pos := -1
		for i := range sd.Prompts {
			if sd.Prompts[i].ID == id {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, id)
		}

		item := sd.Prompts[pos]
		sd.Prompts = append(sd.Prompts[:pos], sd.Prompts[pos+1:]...)
		ix.Untrack(id, item.Category, shardID)

		return []github.FileChange{
			{Path: r.Store.ShardPath(shardID), Content: marshalDoc(sd)},
			{Path: r.Store.IndexPath(), Content: marshalDoc(ix)},
		}, nil
	}, "feat: delete prompt "+id)
	if err != nil {
		return "", err
	}

	if direct {
		r.Cache.Patch(ctx, func(data *models.PromptsData) {
			kept := data.Prompts[:0]
			for _, p := range data.Prompts {
				if p.ID != id {
					kept = append(kept, p)
				}
			}
			data.Prompts = kept
		})
		return r.repoURL(gh), nil
	}

	pr, err := gh.CreatePullRequest(ctx, prPrefixDelete+" "+id, branch, base, EncodeDeleteBody(id))
	if err != nil {
		return "", err
	}
	return pr.HTMLURL, nil
}

// BatchDelete groups the targets by shard so each distinct shard is read
// exactly once, applies every deletion, and commits all touched shards plus
// the index together. The returned count is the number of ids actually found.
func (r *Repository) BatchDelete(ctx context.Context, token string, ids []string, direct bool) (string, int, error) {
	gh, err := r.NewClient(token)
	if err != nil {
		return "", 0, err
	}
	base, branch, err := r.prepareBranch(ctx, gh, "batch-delete", direct)
	if err != nil {
		return "", 0, err
	}

	deleted := 0
	_, err = gh.CommitFiles(ctx, branch, func(ctx context.Context, headSHA string) ([]github.FileChange, error) {
		deleted = 0
		ix, err := r.readIndexAt(ctx, gh, headSHA)
		if err != nil {
			return nil, err
		}

		byShard := map[int][]string{}
		for _, id := range ids {
			sid := shard.ShardOf(id, ix.ShardCount)
			byShard[sid] = append(byShard[sid], id)
		}

		shardIDs := make([]int, 0, len(byShard))
		for sid := range byShard {
			shardIDs = append(shardIDs, sid)
		}
		sort.Ints(shardIDs)

		changes := make([]github.FileChange, 0, len(shardIDs)+1)
		for _, sid := range shardIDs {
			sd, err := r.readShardAt(ctx, gh, headSHA, sid)
			if err != nil {
				return nil, err
			}
			targets := map[string]bool{}
			for _, id := range byShard[sid] {
				targets[id] = true
			}
			kept := sd.Prompts[:0]
			for _, p := range sd.Prompts {
				if targets[p.ID] {
					ix.Untrack(p.ID, p.Category, sid)
					deleted++
					continue
				}
				kept = append(kept, p)
			}
			sd.Prompts = kept
			changes = append(changes, github.FileChange{Path: r.Store.ShardPath(sid), Content: marshalDoc(sd)})
		}

		changes = append(changes, github.FileChange{Path: r.Store.IndexPath(), Content: marshalDoc(ix)})
		return changes, nil
	}, fmt.Sprintf("feat: batch delete %d prompts", len(ids)))
	if err != nil {
		return "", 0, err
	}

	if direct {
		r.Cache.Patch(ctx, func(data *models.PromptsData) {
			drop := map[string]bool{}
			for _, id := range ids {
				drop[id] = true
			}
			kept := data.Prompts[:0]
			for _, p := range data.Prompts {
				if !drop[p.ID] {
					kept = append(kept, p)
				}
			}
			data.Prompts = kept
		})
		return r.repoURL(gh), deleted, nil
	}

	title := fmt.Sprintf("%s %d prompts", prPrefixBatch, len(ids))
	pr, err := gh.CreatePullRequest(ctx, title, branch, base, EncodeBatchDeleteBody(ids))
	if err != nil {
		return "", 0, err
	}
	return pr.HTMLURL, deleted, nil
}

// UploadImage commits an image under public/images with a collision-free
// name and returns a URL the gallery can embed.
func (r *Repository) UploadImage(ctx context.Context, token, filename string, data []byte, direct bool) (string, error) {
	gh, err := r.NewClient(token)
	if err != nil {
		return "", err
	}
	base, branch, err := r.prepareBranch(ctx, gh, "upload-image", direct)
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("public/images/%d-%s", time.Now().UnixMilli(), filename)
	blobSHA, err := gh.CreateBlob(ctx, base64.StdEncoding.EncodeToString(data), "base64")
	if err != nil {
		return "", err
	}

	_, err = gh.CommitFiles(ctx, branch, func(ctx context.Context, headSHA string) ([]github.FileChange, error) {
		return []github.FileChange{{Path: path, BlobSHA: blobSHA}}, nil
	}, "chore: upload image "+path)
	if err != nil {
		return "", err
	}

	if !direct {
		if _, err := gh.CreatePullRequest(ctx, "Upload image: "+filename, branch, base, "Upload image "+filename); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", gh.RawBaseURL, gh.Owner, gh.Repo, branch, path), nil
}

// LoadAll serves the materialized collection through the snapshot cache.
func (r *Repository) LoadAll(ctx context.Context) (*models.PromptsData, error) {
	return r.Cache.GetOrLoad(ctx, r.Store.LoadAll)
}

// Refresh bypasses the cache and reloads from the store.
func (r *Repository) Refresh(ctx context.Context) (*models.PromptsData, error) {
	r.Cache.Invalidate(ctx)
	return r.LoadAll(ctx)
}
