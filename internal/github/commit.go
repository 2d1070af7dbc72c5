package github

import (
	"context"
	"math/rand"
	"time"
)

const commitAttempts = 3

// FileChange is one path to overlay in the next commit. Content is used for
// text payloads; BlobSHA references an already-created blob (binary uploads);
// Delete removes the path.
type FileChange struct {
	Path    string
	Content string
	BlobSHA string
	Delete  bool
}

// FileProducer derives the files to write from the branch head it is given.
// It is re-invoked with a fresh head on every retry, so implementations must
// re-read any state they depend on from that sha, never from a snapshot taken
// before CommitFiles was called. That re-read is what turns last-writer-wins
// on the ref into read-modify-write without lost updates.
type FileProducer func(ctx context.Context, headSHA string) ([]FileChange, error)

// CommitFiles lands every change produced against the current branch head in
// a single commit. The ref update is compare-and-swap on the server; losing
// the race classifies as a conflict and the whole attempt reruns from a fresh
// head, up to the attempt budget. Any other error is fatal immediately.
func (c *Client) CommitFiles(ctx context.Context, branch string, produce FileProducer, message string) (string, error) {
	var commitSHA string
	err := runWithOptimisticRetry(ctx, commitAttempts, defaultBackoff, IsConflict, func() error {
		headSHA, err := c.GetBranchHeadSHA(ctx, branch)
		if err != nil {
			return err
		}
		head, err := c.GetCommit(ctx, headSHA)
		if err != nil {
			return err
		}

		changes, err := produce(ctx, headSHA)
		if err != nil {
			return err
		}

		entries := make([]TreeEntry, 0, len(changes))
		for _, ch := range changes {
			e := TreeEntry{Path: ch.Path, Mode: "100644", Type: "blob"}
			switch {
			case ch.Delete:
				e.Delete = true
			case ch.BlobSHA != "":
				e.SHA = ch.BlobSHA
			default:
				e.Content = ch.Content
			}
			entries = append(entries, e)
		}

		treeSHA, err := c.CreateTree(ctx, head.TreeSHA, entries)
		if err != nil {
			return err
		}
		newSHA, err := c.CreateCommit(ctx, message, treeSHA, []string{headSHA})
		if err != nil {
			return err
		}
		if err := c.UpdateRef(ctx, branch, newSHA); err != nil {
			return err
		}
		commitSHA = newSHA
		return nil
	})
	if err != nil {
		return "", err
	}
	return commitSHA, nil
}

// defaultBackoff returns a short randomized wait so racing writers desync.
func defaultBackoff(attempt int) time.Duration {
	base := 300 * time.Millisecond * time.Duration(attempt+1)
	jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
	return base + jitter
}

// runWithOptimisticRetry runs op until it succeeds, fails with a non-retryable
// error, or exhausts attempts. retryable decides which failures mean "someone
// else won the race, re-derive and try again".
func runWithOptimisticRetry(ctx context.Context, attempts int, backoff func(int) time.Duration, retryable func(error) bool, op func() error) error {
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = op()
		if last == nil {
			return nil
		}
		if !retryable(last) {
			return last
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return last
}
