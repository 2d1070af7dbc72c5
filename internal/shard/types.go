package shard

import (
	"fmt"
	"time"

	"github.com/prompthub/prompthub/internal/models"
)

const IndexVersion = "2.0.0"

// CategoryEntry tracks one category's aggregate membership inside the index.
type CategoryEntry struct {
	Count     int      `json:"count"`
	Shards    []int    `json:"shards"`
	PromptIDs []string `json:"promptIds"`
}

// Index is the singleton global document: aggregate counts plus
// category→ids and shard→ids membership, kept so category and id lookups do
// not require downloading every shard.
type Index struct {
	Version      string                    `json:"version"`
	ShardCount   int                       `json:"shardCount"`
	TotalPrompts int                       `json:"totalPrompts"`
	LastUpdated  string                    `json:"lastUpdated"`
	Categories   map[string]*CategoryEntry `json:"categories"`
	ShardMap     map[string][]string       `json:"shardMap"`
}

// Data is one physical shard document.
type Data struct {
	ShardID int             `json:"shardId"`
	Prompts []models.Prompt `json:"prompts"`
}

// NewIndex returns a fresh empty index. Also the self-heal value substituted
// when the stored index is empty or corrupt.
func NewIndex(shardCount int) *Index {
	return &Index{
		Version:     IndexVersion,
		ShardCount:  shardCount,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Categories:  map[string]*CategoryEntry{},
		ShardMap:    map[string][]string{},
	}
}

func shardKey(id int) string { return fmt.Sprintf("%d", id) }

func (ix *Index) touch() {
	ix.LastUpdated = time.Now().UTC().Format(time.RFC3339)
}

// Track registers an id under its category and shard and bumps the totals.
func (ix *Index) Track(id, category string, shardID int) {
	cat := ix.Categories[category]
	if cat == nil {
		cat = &CategoryEntry{}
		if ix.Categories == nil {
			ix.Categories = map[string]*CategoryEntry{}
		}
		ix.Categories[category] = cat
	}
	cat.Count++
	cat.PromptIDs = append(cat.PromptIDs, id)
	if !containsInt(cat.Shards, shardID) {
		cat.Shards = append(cat.Shards, shardID)
	}

	if ix.ShardMap == nil {
		ix.ShardMap = map[string][]string{}
	}
	key := shardKey(shardID)
	ix.ShardMap[key] = append(ix.ShardMap[key], id)
	ix.TotalPrompts++
	ix.touch()
}

// Untrack removes an id from its category and shard membership and decrements
// the totals.
func (ix *Index) Untrack(id, category string, shardID int) {
	if cat := ix.Categories[category]; cat != nil {
		cat.Count--
		cat.PromptIDs = removeString(cat.PromptIDs, id)
	}
	key := shardKey(shardID)
	if ids, ok := ix.ShardMap[key]; ok {
		ix.ShardMap[key] = removeString(ids, id)
	}
	ix.TotalPrompts--
	ix.touch()
}

// Recategorize moves an id between categories. The shard assignment is a pure
// function of the id, so only the category indirection changes.
func (ix *Index) Recategorize(id, oldCategory, newCategory string, shardID int) {
	if oldCategory == newCategory {
		ix.touch()
		return
	}
	if cat := ix.Categories[oldCategory]; cat != nil {
		cat.Count--
		cat.PromptIDs = removeString(cat.PromptIDs, id)
	}
	cat := ix.Categories[newCategory]
	if cat == nil {
		cat = &CategoryEntry{}
		ix.Categories[newCategory] = cat
	}
	cat.Count++
	cat.PromptIDs = append(cat.PromptIDs, id)
	if !containsInt(cat.Shards, shardID) {
		cat.Shards = append(cat.Shards, shardID)
	}
	ix.touch()
}

// Validate checks the cross-document invariants against the loaded shards:
// totalPrompts equals the shard sum and the category sum, shardMap matches
// each shard's actual ids, and every prompt hashes to the shard holding it.
func Validate(ix *Index, shards []Data) error {
	total := 0
	for _, sd := range shards {
		total += len(sd.Prompts)
		seen := map[string]bool{}
		for _, p := range sd.Prompts {
			if got := ShardOf(p.ID, ix.ShardCount); got != sd.ShardID {
				return fmt.Errorf("shard: prompt %s hashes to shard %d but lives in %d", p.ID, got, sd.ShardID)
			}
			seen[p.ID] = true
		}
		mapped := ix.ShardMap[shardKey(sd.ShardID)]
		if len(mapped) != len(seen) {
			return fmt.Errorf("shard: shardMap[%d] lists %d ids, shard holds %d", sd.ShardID, len(mapped), len(seen))
		}
		for _, id := range mapped {
			if !seen[id] {
				return fmt.Errorf("shard: shardMap[%d] lists %s which the shard does not hold", sd.ShardID, id)
			}
		}
	}
	if total != ix.TotalPrompts {
		return fmt.Errorf("shard: totalPrompts=%d but shards hold %d", ix.TotalPrompts, total)
	}
	catTotal := 0
	for _, cat := range ix.Categories {
		catTotal += cat.Count
	}
	if catTotal != ix.TotalPrompts {
		return fmt.Errorf("shard: totalPrompts=%d but category counts sum to %d", ix.TotalPrompts, catTotal)
	}
	return nil
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func removeString(xs []string, x string) []string {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
