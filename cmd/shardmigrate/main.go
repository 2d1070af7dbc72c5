// Command shardmigrate converts a monolithic prompts.json in the content
// repository into the sharded layout: one index plus hash-routed shard
// documents, written in a single commit so readers never observe a half
// migrated state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/prompthub/prompthub/internal/config"
	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/models"
	"github.com/prompthub/prompthub/internal/shard"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "plan the migration without committing")
	keepLegacy := flag.Bool("keep-legacy", true, "leave the monolithic file in place as a fallback")
	flag.Parse()

	cfg := config.Load()

	gh, err := github.NewClient(cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubToken)
	if err != nil {
		log.Fatalf("github: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	branch, err := gh.GetDefaultBranch(ctx)
	if err != nil {
		log.Fatalf("default branch: %v", err)
	}

	file, err := gh.GetFile(ctx, cfg.LegacyPath, branch)
	if err != nil {
		log.Fatalf("read %s: %v", cfg.LegacyPath, err)
	}

	var data models.PromptsData
	if err := json.Unmarshal([]byte(file.Content), &data); err != nil {
		log.Fatalf("parse %s: %v", cfg.LegacyPath, err)
	}
	log.Printf("loaded %d prompts from %s", len(data.Prompts), cfg.LegacyPath)

	ix, shards, err := shard.BuildLayout(data.Prompts, cfg.ShardCount)
	if err != nil {
		log.Fatalf("layout: %v", err)
	}

	for i := range shards {
		log.Printf("shard %d: %d prompts", i, len(shards[i].Prompts))
	}
	if *dryRun {
		log.Printf("dry run, not committing")
		return
	}

	dataDir := cfg.DataDir
	changes := make([]github.FileChange, 0, cfg.ShardCount+1)
	marshal := func(v any) string {
		raw, _ := json.MarshalIndent(v, "", "  ")
		return string(raw)
	}
	changes = append(changes, github.FileChange{Path: dataDir + "/index.json", Content: marshal(ix)})
	for i := range shards {
		changes = append(changes, github.FileChange{
			Path:    shard.PathFor(dataDir, i),
			Content: marshal(&shards[i]),
		})
	}
	if !*keepLegacy {
		changes = append(changes, github.FileChange{Path: cfg.LegacyPath, Delete: true})
	}

	sha, err := gh.CommitFiles(ctx, branch, func(ctx context.Context, headSHA string) ([]github.FileChange, error) {
		return changes, nil
	}, "chore: migrate prompts.json to sharded layout")
	if err != nil {
		log.Fatalf("commit: %v", err)
	}
	log.Printf("migrated in commit %s", sha)
}
