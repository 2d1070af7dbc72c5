package shard

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/github/githubtest"
	"github.com/prompthub/prompthub/internal/models"
)

const testDataDir = "public/data/prompts"

func newTestStore(t *testing.T, fake *githubtest.Fake) *Store {
	t.Helper()
	client, err := github.NewClient(fake.Owner, fake.Repo, "test-token")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	client.BaseURL = fake.URL()
	client.RawBaseURL = fake.RawURL()
	return NewStore(client, "", testDataDir, "public/data/prompts.json", fake.DefaultBranch)
}

func seedSharded(t *testing.T, fake *githubtest.Fake, prompts []models.Prompt) {
	t.Helper()
	ix := NewIndex(8)
	shards := make([]Data, 8)
	for i := range shards {
		shards[i].ShardID = i
	}
	for _, p := range prompts {
		sid := ShardOf(p.ID, 8)
		shards[sid].Prompts = append(shards[sid].Prompts, p)
		ix.Track(p.ID, p.Category, sid)
	}
	files := map[string]string{}
	raw, _ := json.Marshal(ix)
	files[testDataDir+"/index.json"] = string(raw)
	for i := range shards {
		raw, _ := json.Marshal(&shards[i])
		files[PathFor(testDataDir, i)] = string(raw)
	}
	fake.Seed(files)
}

func TestLoadAllFromShards(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	seedSharded(t, fake, []models.Prompt{
		{ID: "a", Title: "first", Category: "写作"},
		{ID: "abc", Title: "second", Category: "编程"},
		{ID: "zzzzzzzz", Title: "third", Category: "编程"},
	})

	store := newTestStore(t, fake)
	data, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(data.Prompts) != 3 {
		t.Fatalf("got %d prompts, want 3", len(data.Prompts))
	}
	if data.Version != IndexVersion {
		t.Errorf("version = %q, want %q", data.Version, IndexVersion)
	}
}

func TestLoadAllFallsBackToLegacy(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	legacy := models.PromptsData{Version: "1.0.0", Prompts: []models.Prompt{
		{ID: "old-1", Title: "legacy"},
	}}
	raw, _ := json.Marshal(legacy)
	fake.Seed(map[string]string{"public/data/prompts.json": string(raw)})

	store := newTestStore(t, fake)
	data, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(data.Prompts) != 1 || data.Prompts[0].ID != "old-1" {
		t.Fatalf("legacy fallback not used: %+v", data.Prompts)
	}
}

func TestLoadByCategoryReadsOnlyListedShards(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	seedSharded(t, fake, []models.Prompt{
		{ID: "a", Title: "first", Category: "写作"},
		{ID: "abc", Title: "second", Category: "编程"},
	})

	store := newTestStore(t, fake)
	got, err := store.LoadByCategory(context.Background(), "编程")
	if err != nil {
		t.Fatalf("LoadByCategory: %v", err)
	}
	if len(got) != 1 || got[0].ID != "abc" {
		t.Fatalf("category filter wrong: %+v", got)
	}

	got, err = store.LoadByCategory(context.Background(), "不存在")
	if err != nil || got != nil {
		t.Fatalf("unknown category should yield nil, got %v (%v)", got, err)
	}
}

func TestFindByIDRoutesToOneShard(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	seedSharded(t, fake, []models.Prompt{
		{ID: "a", Title: "first", Category: "写作"},
		{ID: "abc", Title: "second", Category: "编程"},
	})

	store := newTestStore(t, fake)
	p, err := store.FindByID(context.Background(), "abc")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if p == nil || p.Title != "second" {
		t.Fatalf("FindByID wrong result: %+v", p)
	}

	p, err = store.FindByID(context.Background(), "missing-id")
	if err != nil {
		t.Fatalf("FindByID missing: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for missing id, got %+v", p)
	}
}
