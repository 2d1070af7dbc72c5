package shard

import "github.com/prompthub/prompthub/internal/models"

// BuildLayout distributes prompts into shardCount shard documents by hash
// routing and derives the matching index. Assignment is a pure function of
// the id, so rebuilding from an already-sharded dataset reproduces the same
// layout. The result is validated before it is returned.
func BuildLayout(prompts []models.Prompt, shardCount int) (*Index, []Data, error) {
	ix := NewIndex(shardCount)
	shards := make([]Data, shardCount)
	for i := range shards {
		shards[i].ShardID = i
	}
	for _, p := range prompts {
		sid := ShardOf(p.ID, shardCount)
		shards[sid].Prompts = append(shards[sid].Prompts, p)
		ix.Track(p.ID, p.Category, sid)
	}
	if err := Validate(ix, shards); err != nil {
		return nil, nil, err
	}
	return ix, shards, nil
}
