package shard

import (
	"testing"

	"github.com/prompthub/prompthub/internal/models"
)

func TestTrackUntrackKeepsTotals(t *testing.T) {
	ix := NewIndex(8)

	ix.Track("a", "写作", ShardOf("a", 8))
	ix.Track("abc", "写作", ShardOf("abc", 8))
	ix.Track("zzzzzzzz", "编程", ShardOf("zzzzzzzz", 8))

	if ix.TotalPrompts != 3 {
		t.Fatalf("TotalPrompts = %d, want 3", ix.TotalPrompts)
	}
	if ix.Categories["写作"].Count != 2 || ix.Categories["编程"].Count != 1 {
		t.Fatalf("category counts wrong: %+v", ix.Categories)
	}

	ix.Untrack("a", "写作", ShardOf("a", 8))
	if ix.TotalPrompts != 2 {
		t.Fatalf("TotalPrompts after untrack = %d, want 2", ix.TotalPrompts)
	}
	if ix.Categories["写作"].Count != 1 {
		t.Fatalf("写作 count after untrack = %d, want 1", ix.Categories["写作"].Count)
	}
	for _, id := range ix.ShardMap[shardKey(ShardOf("a", 8))] {
		if id == "a" {
			t.Fatalf("shardMap still lists removed id")
		}
	}
}

func TestRecategorizeMovesMembershipOnly(t *testing.T) {
	ix := NewIndex(8)
	sid := ShardOf("abc", 8)
	ix.Track("abc", "写作", sid)

	ix.Recategorize("abc", "写作", "编程", sid)

	if ix.TotalPrompts != 1 {
		t.Fatalf("TotalPrompts = %d, want 1", ix.TotalPrompts)
	}
	if ix.Categories["写作"].Count != 0 {
		t.Fatalf("old category count = %d, want 0", ix.Categories["写作"].Count)
	}
	cat := ix.Categories["编程"]
	if cat == nil || cat.Count != 1 || len(cat.PromptIDs) != 1 || cat.PromptIDs[0] != "abc" {
		t.Fatalf("new category entry wrong: %+v", cat)
	}
	// shard membership untouched
	if ids := ix.ShardMap[shardKey(sid)]; len(ids) != 1 || ids[0] != "abc" {
		t.Fatalf("shardMap changed: %v", ids)
	}
}

func TestValidateCatchesDrift(t *testing.T) {
	ix := NewIndex(8)
	shards := make([]Data, 8)
	for i := range shards {
		shards[i].ShardID = i
	}

	add := func(id, category string) {
		sid := ShardOf(id, 8)
		shards[sid].Prompts = append(shards[sid].Prompts, models.Prompt{ID: id, Category: category})
		ix.Track(id, category, sid)
	}
	add("a", "写作")
	add("abc", "编程")
	add("zzzzzzzz", "编程")

	if err := Validate(ix, shards); err != nil {
		t.Fatalf("consistent layout rejected: %v", err)
	}

	// totals out of sync
	ix.TotalPrompts++
	if err := Validate(ix, shards); err == nil {
		t.Fatalf("total drift not detected")
	}
	ix.TotalPrompts--

	// prompt stored in the wrong shard
	wrong := (ShardOf("a", 8) + 1) % 8
	shards[wrong].Prompts = append(shards[wrong].Prompts, models.Prompt{ID: "a", Category: "写作"})
	if err := Validate(ix, shards); err == nil {
		t.Fatalf("misplaced prompt not detected")
	}
}

func TestParseIndexSelfHeals(t *testing.T) {
	for _, content := range []string{"", "{not json", `{"shardCount":0}`} {
		ix := ParseIndex(content, 8)
		if ix == nil || ix.ShardCount != 8 || ix.TotalPrompts != 0 {
			t.Errorf("ParseIndex(%q) did not heal: %+v", content, ix)
		}
		if ix.Categories == nil || ix.ShardMap == nil {
			t.Errorf("ParseIndex(%q) left nil maps", content)
		}
	}
}

func TestParseIndexKeepsValidDocument(t *testing.T) {
	ix := ParseIndex(`{"version":"2.0.0","shardCount":4,"totalPrompts":7,"categories":{},"shardMap":{}}`, 8)
	if ix.ShardCount != 4 || ix.TotalPrompts != 7 {
		t.Fatalf("valid index mangled: %+v", ix)
	}
}

func TestParseShardHeals(t *testing.T) {
	sd := ParseShard("{bad", 3)
	if sd.ShardID != 3 || len(sd.Prompts) != 0 {
		t.Fatalf("ParseShard did not heal: %+v", sd)
	}
	sd = ParseShard(`{"shardId":9,"prompts":[{"id":"x"}]}`, 3)
	if sd.ShardID != 3 {
		t.Fatalf("ShardID not normalized to the requested id: %d", sd.ShardID)
	}
	if len(sd.Prompts) != 1 || sd.Prompts[0].ID != "x" {
		t.Fatalf("prompts lost: %+v", sd.Prompts)
	}
}
