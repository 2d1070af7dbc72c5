package models

// Author identifies who contributed a prompt.
type Author struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Prompt is one content record. The id is globally unique and doubles as the
// shard key; exactly one shard document owns a prompt at a time.
type Prompt struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Prompt      string   `json:"prompt"`
	Description string   `json:"description"`
	SourceLink  string   `json:"sourceLink,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
	Status      string   `json:"status,omitempty"` // draft | published | archived
	Author      *Author  `json:"author,omitempty"`
	Images      []string `json:"images,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
}

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// PromptsData is the materialized whole-collection view handed to readers and
// kept in the snapshot cache.
type PromptsData struct {
	Version string   `json:"version"`
	Prompts []Prompt `json:"prompts"`
}

// Submission actions.
const (
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionBatchDelete = "batch-delete"
)

// Submission vehicle kinds.
const (
	SubmissionIssue = "issue"
	SubmissionPull  = "pr"
)

// PendingSubmission is the derived, non-persisted view over one open issue or
// pull request awaiting review.
type PendingSubmission struct {
	Prompt
	Type        string   `json:"type"` // issue | pr
	Number      int      `json:"number"`
	Action      string   `json:"action"`
	OriginalID  string   `json:"originalId,omitempty"`
	BatchIDs    []string `json:"batchIds,omitempty"`
	URL         string   `json:"url,omitempty"`
	SubmittedBy string   `json:"submittedBy,omitempty"`
	SubmittedAt string   `json:"submittedAt,omitempty"`
}
