package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/models"
)

// Store loads index and shard documents. Reads prefer the static mirror
// (CDN-served, cacheable) and fall back to raw repository content, which is
// fresh immediately after a write the mirror has not picked up yet.
type Store struct {
	GH         *github.Client
	StaticBase string // e.g. https://example.github.io/data/prompts; empty disables the mirror
	DataDir    string // repo path of the shard directory, e.g. public/data/prompts
	LegacyPath string // single-file fallback, e.g. public/data/prompts.json
	Branch     string // ref for raw fallback reads, usually the default branch
	HTTP       *http.Client
}

func NewStore(gh *github.Client, staticBase, dataDir, legacyPath, branch string) *Store {
	return &Store{
		GH:         gh,
		StaticBase: strings.TrimSuffix(staticBase, "/"),
		DataDir:    strings.TrimSuffix(dataDir, "/"),
		LegacyPath: legacyPath,
		Branch:     branch,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *Store) IndexPath() string { return s.DataDir + "/index.json" }

func (s *Store) ShardPath(id int) string { return PathFor(s.DataDir, id) }

// PathFor names shard documents relative to the data directory.
func PathFor(dataDir string, id int) string {
	return fmt.Sprintf("%s/shard-%d.json", dataDir, id)
}

// fetch reads one document, mirror first, raw content second.
func (s *Store) fetch(ctx context.Context, name, repoPath string) (string, error) {
	if s.StaticBase != "" {
		if body, err := s.fetchStatic(ctx, name); err == nil {
			return body, nil
		}
	}
	return s.GH.GetRawFile(ctx, repoPath, s.Branch)
}

func (s *Store) fetchStatic(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.StaticBase+"/"+name, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shard: static fetch %s: status %d", name, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseIndex decodes an index document. An empty or corrupt payload heals to a
// fresh empty index instead of failing the operation; the store has no schema
// migrations, so refusing to parse would wedge every future write.
func ParseIndex(content string, shardCount int) *Index {
	var ix Index
	if err := json.Unmarshal([]byte(content), &ix); err != nil || ix.ShardCount <= 0 {
		return NewIndex(shardCount)
	}
	if ix.Categories == nil {
		ix.Categories = map[string]*CategoryEntry{}
	}
	if ix.ShardMap == nil {
		ix.ShardMap = map[string][]string{}
	}
	return &ix
}

// ParseShard decodes a shard document; a missing or corrupt shard heals to an
// empty one with the given id.
func ParseShard(content string, shardID int) *Data {
	var sd Data
	if err := json.Unmarshal([]byte(content), &sd); err != nil {
		return &Data{ShardID: shardID}
	}
	sd.ShardID = shardID
	return &sd
}

// LoadIndex reads the live index.
func (s *Store) LoadIndex(ctx context.Context) (*Index, error) {
	body, err := s.fetch(ctx, "index.json", s.IndexPath())
	if err != nil {
		return nil, err
	}
	var ix Index
	if err := json.Unmarshal([]byte(body), &ix); err != nil {
		return nil, fmt.Errorf("shard: parse index: %w", err)
	}
	return &ix, nil
}

// LoadShard reads one shard document.
func (s *Store) LoadShard(ctx context.Context, id int) (*Data, error) {
	body, err := s.fetch(ctx, fmt.Sprintf("shard-%d.json", id), s.ShardPath(id))
	if err != nil {
		return nil, err
	}
	var sd Data
	if err := json.Unmarshal([]byte(body), &sd); err != nil {
		return nil, fmt.Errorf("shard: parse shard %d: %w", id, err)
	}
	return &sd, nil
}

// LoadShards flattens the given shards in the given order. Order across
// shards carries no meaning; within a shard it is insertion order,
// newest-first for appends.
func (s *Store) LoadShards(ctx context.Context, ids []int) ([]models.Prompt, error) {
	var out []models.Prompt
	for _, id := range ids {
		sd, err := s.LoadShard(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sd.Prompts...)
	}
	return out, nil
}

// LoadAll materializes the whole collection. When shard loading fails it
// falls back to the legacy single-file layout (mid-migration repositories).
func (s *Store) LoadAll(ctx context.Context) (*models.PromptsData, error) {
	ix, err := s.LoadIndex(ctx)
	if err == nil {
		ids := make([]int, ix.ShardCount)
		for i := range ids {
			ids[i] = i
		}
		prompts, lerr := s.LoadShards(ctx, ids)
		if lerr == nil {
			return &models.PromptsData{Version: ix.Version, Prompts: prompts}, nil
		}
		err = lerr
	}

	legacy, lerr := s.GH.GetRawFile(ctx, s.LegacyPath, s.Branch)
	if lerr != nil {
		return nil, err
	}
	var data models.PromptsData
	if uerr := json.Unmarshal([]byte(legacy), &data); uerr != nil {
		return nil, fmt.Errorf("shard: parse legacy prompts: %w", uerr)
	}
	return &data, nil
}

// LoadByCategory loads only the shards the index lists for a category and
// filters, so a category read does not download the whole corpus.
func (s *Store) LoadByCategory(ctx context.Context, category string) ([]models.Prompt, error) {
	ix, err := s.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	cat := ix.Categories[category]
	if cat == nil {
		return nil, nil
	}
	prompts, err := s.LoadShards(ctx, cat.Shards)
	if err != nil {
		return nil, err
	}
	out := prompts[:0]
	for _, p := range prompts {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindByID routes to the single shard that can hold the id and scans it.
func (s *Store) FindByID(ctx context.Context, id string) (*models.Prompt, error) {
	ix, err := s.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	sd, err := s.LoadShard(ctx, ShardOf(id, ix.ShardCount))
	if err != nil {
		return nil, err
	}
	for i := range sd.Prompts {
		if sd.Prompts[i].ID == id {
			return &sd.Prompts[i], nil
		}
	}
	return nil, nil
}
