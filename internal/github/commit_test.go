package github

import (
	"context"
	"testing"

	"github.com/prompthub/prompthub/internal/github/githubtest"
)

func newTestClient(t *testing.T, fake *githubtest.Fake) *Client {
	t.Helper()
	c, err := NewClient(fake.Owner, fake.Repo, "test-token")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	c.BaseURL = fake.URL()
	c.RawBaseURL = fake.RawURL()
	return c
}

func TestCommitFilesWritesAtomically(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	client := newTestClient(t, fake)

	sha, err := client.CommitFiles(context.Background(), fake.DefaultBranch, func(ctx context.Context, headSHA string) ([]FileChange, error) {
		return []FileChange{
			{Path: "data/index.json", Content: `{"total":1}`},
			{Path: "data/shard-0.json", Content: `{"prompts":[]}`},
		}, nil
	}, "write both files")
	if err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}
	if sha == "" {
		t.Fatal("empty commit sha")
	}

	records := fake.Commits()
	if len(records) != 1 {
		t.Fatalf("got %d commits, want 1", len(records))
	}
	if len(records[0].Files) != 2 {
		t.Fatalf("commit touched %v, want both paths", records[0].Files)
	}
	if got, ok := fake.FileAt(fake.DefaultBranch, "data/index.json"); !ok || got != `{"total":1}` {
		t.Fatalf("index content = %q, %v", got, ok)
	}
}

func TestCommitFilesRereadsHeadAfterRaceLoss(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	fake.Seed(map[string]string{"data/value.txt": "base"})
	client := newTestClient(t, fake)

	// another writer lands a change after our first read; the forced ref
	// failure makes our first attempt lose, and the retry must observe the
	// other writer's commit
	fake.FailRefUpdates = 1
	calls := 0
	var seen []string
	_, err := client.CommitFiles(context.Background(), fake.DefaultBranch, func(ctx context.Context, headSHA string) ([]FileChange, error) {
		calls++
		current, err := client.GetRawFile(ctx, "data/value.txt", headSHA)
		if err != nil {
			return nil, err
		}
		seen = append(seen, current)
		if calls == 1 {
			if err := client.PutFile(ctx, "data/value.txt", "other-writer", "concurrent write", fake.DefaultBranch, ""); err != nil {
				return nil, err
			}
		}
		return []FileChange{{Path: "data/value.txt", Content: current + "+mine"}}, nil
	}, "merge on top")
	if err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}

	if calls != 2 {
		t.Fatalf("producer ran %d times, want 2", calls)
	}
	if seen[0] != "base" || seen[1] != "other-writer" {
		t.Fatalf("reads = %v, retry did not observe fresh head", seen)
	}
	if got, _ := fake.FileAt(fake.DefaultBranch, "data/value.txt"); got != "other-writer+mine" {
		t.Fatalf("final content = %q, lost the concurrent update", got)
	}
}

func TestCommitFilesGivesUpAfterAttempts(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	client := newTestClient(t, fake)

	fake.FailRefUpdates = 10
	calls := 0
	_, err := client.CommitFiles(context.Background(), fake.DefaultBranch, func(ctx context.Context, headSHA string) ([]FileChange, error) {
		calls++
		return []FileChange{{Path: "x.txt", Content: "x"}}, nil
	}, "doomed")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !IsConflict(err) {
		t.Fatalf("error not classified as conflict: %v", err)
	}
	if calls != commitAttempts {
		t.Fatalf("producer ran %d times, want %d", calls, commitAttempts)
	}
}

func TestCommitFilesStopsOnFatalProducerError(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	client := newTestClient(t, fake)

	calls := 0
	_, err := client.CommitFiles(context.Background(), fake.DefaultBranch, func(ctx context.Context, headSHA string) ([]FileChange, error) {
		calls++
		return nil, context.Canceled
	}, "fatal")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("producer retried a non-conflict error, ran %d times", calls)
	}
}

func TestCommitFilesDeletesPaths(t *testing.T) {
	fake := githubtest.New()
	defer fake.Close()
	fake.Seed(map[string]string{"old.json": "{}", "keep.json": "{}"})
	client := newTestClient(t, fake)

	_, err := client.CommitFiles(context.Background(), fake.DefaultBranch, func(ctx context.Context, headSHA string) ([]FileChange, error) {
		return []FileChange{{Path: "old.json", Delete: true}}, nil
	}, "drop legacy file")
	if err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}
	if _, ok := fake.FileAt(fake.DefaultBranch, "old.json"); ok {
		t.Fatal("deleted file still present")
	}
	if _, ok := fake.FileAt(fake.DefaultBranch, "keep.json"); !ok {
		t.Fatal("unrelated file lost")
	}
}
