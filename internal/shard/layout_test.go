package shard

import (
	"testing"

	"github.com/prompthub/prompthub/internal/models"
)

func TestBuildLayoutValidates(t *testing.T) {
	prompts := []models.Prompt{
		{ID: "a", Category: "写作"},
		{ID: "abc", Category: "编程"},
		{ID: "zzzzzzzz", Category: "编程"},
	}

	ix, shards, err := BuildLayout(prompts, 8)
	if err != nil {
		t.Fatalf("BuildLayout: %v", err)
	}
	if len(shards) != 8 {
		t.Fatalf("got %d shards, want 8", len(shards))
	}
	if ix.TotalPrompts != 3 {
		t.Fatalf("TotalPrompts = %d, want 3", ix.TotalPrompts)
	}
	for _, p := range prompts {
		sid := ShardOf(p.ID, 8)
		found := false
		for _, q := range shards[sid].Prompts {
			if q.ID == p.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("prompt %s missing from shard %d", p.ID, sid)
		}
	}
}

func TestBuildLayoutStableOverResharding(t *testing.T) {
	prompts := []models.Prompt{
		{ID: "a", Category: "写作"},
		{ID: "ab", Category: "写作"},
		{ID: "abc", Category: "编程"},
		{ID: "ghost", Category: "编程"},
		{ID: "zzzzzzzz", Category: "翻译"},
	}

	_, first, err := BuildLayout(prompts, 8)
	if err != nil {
		t.Fatalf("first BuildLayout: %v", err)
	}

	// flatten the sharded layout and rebuild, as a re-run of the migration
	// over an already-sharded dataset would
	var flattened []models.Prompt
	for _, sd := range first {
		flattened = append(flattened, sd.Prompts...)
	}
	_, second, err := BuildLayout(flattened, 8)
	if err != nil {
		t.Fatalf("second BuildLayout: %v", err)
	}

	for i := range first {
		if len(first[i].Prompts) != len(second[i].Prompts) {
			t.Fatalf("shard %d size changed: %d vs %d", i, len(first[i].Prompts), len(second[i].Prompts))
		}
		for j := range first[i].Prompts {
			if first[i].Prompts[j].ID != second[i].Prompts[j].ID {
				t.Fatalf("shard %d assignment changed at %d: %s vs %s",
					i, j, first[i].Prompts[j].ID, second[i].Prompts[j].ID)
			}
		}
	}
}
