package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/prompthub/prompthub/internal/models"
)

// ErrManualMerge is terminal for one submission: its body matched neither the
// metadata envelope nor the legacy labeled template. A bad commit to shared
// history cannot be undone, so parsing fails closed instead of guessing.
var ErrManualMerge = errors.New("prompt: cannot parse submission body, merge manually")

// Issue title tags and PR title prefixes. These are the wire contract the
// review flow keys on; changing them strands open submissions.
const (
	issueTagSubmission  = "[Submission]"
	issueTagUpdate      = "[Update]"
	issueTagDelete      = "[Delete]"
	issueTagBatchDelete = "[Batch Delete]"

	prPrefixAdd    = "Add prompt:"
	prPrefixUpdate = "Update prompt:"
	prPrefixDelete = "Delete prompt:"
	prPrefixBatch  = "Batch delete"
)

var (
	reMetadata = regexp.MustCompile(`(?s)<!-- METADATA_JSON_START\s*(.*?)\s*METADATA_JSON_END -->`)
	reTitle    = regexp.MustCompile(`\*\*Title:\*\* (.*)`)
	reCategory = regexp.MustCompile(`\*\*Category:\*\* (.*)`)
	reDesc     = regexp.MustCompile(`(?s)\*\*Description:\*\*\s*\n(.*?)\n\n\*\*Prompt:\*\*`)
	rePrompt   = regexp.MustCompile("(?s)```\n(.*?)\n```")
	reTags     = regexp.MustCompile(`\*\*Tags:\*\* (.*)`)
	reStatus   = regexp.MustCompile(`\*\*Status:\*\* (.*)`)
	reImages   = regexp.MustCompile(`\*\*Images:\*\* (.*)`)
	reOrigID   = regexp.MustCompile(`(?i)\*\*Original ID:\*\*\s*(.*)`)
	reBatchID  = regexp.MustCompile(`(?m)^- (.+)$`)
)

// EncodeSubmissionBody renders the markdown envelope: human-readable labeled
// fields plus the delimited JSON block carrying the authoritative record, so
// approval reconstructs the exact prompt without lossy re-parsing.
func EncodeSubmissionBody(heading string, p models.Prompt, originalID string) string {
	meta, _ := json.Marshal(p)

	images := p.Images
	if len(images) == 0 && p.ImageURL != "" {
		images = []string{p.ImageURL}
	}
	imagesJSON, _ := json.Marshal(images)
	if images == nil {
		imagesJSON = []byte("[]")
	}

	author := "Anonymous"
	avatar := ""
	if p.Author != nil {
		if p.Author.Username != "" {
			author = p.Author.Username
		}
		avatar = p.Author.AvatarURL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n### %s\n\n", heading)
	if originalID != "" {
		fmt.Fprintf(&b, "**Original ID:** %s\n", originalID)
	}
	fmt.Fprintf(&b, "**Title:** %s\n", p.Title)
	fmt.Fprintf(&b, "**Category:** %s\n", p.Category)
	fmt.Fprintf(&b, "**Description:**\n%s\n\n", p.Description)
	fmt.Fprintf(&b, "**Prompt:**\n```\n%s\n```\n\n", p.Prompt)
	fmt.Fprintf(&b, "**Tags:** %s\n", strings.Join(p.Tags, ", "))
	fmt.Fprintf(&b, "**Images:** %s\n", imagesJSON)
	fmt.Fprintf(&b, "**Status:** %s\n\n", p.Status)
	fmt.Fprintf(&b, "**Author:** %s\n", author)
	if avatar != "" {
		fmt.Fprintf(&b, "**Avatar:** %s\n", avatar)
	}
	fmt.Fprintf(&b, "\n<!-- METADATA_JSON_START\n%s\nMETADATA_JSON_END -->\n", meta)
	return b.String()
}

// EncodeDeleteBody is the minimal body for a single-delete request.
func EncodeDeleteBody(id string) string {
	return fmt.Sprintf("\n### Delete Prompt Request\n\n**ID:** %s\n", id)
}

// EncodeBatchDeleteBody lists the target ids as bullets.
func EncodeBatchDeleteBody(ids []string) string {
	var b strings.Builder
	b.WriteString("\n### Batch Delete Prompt Request\n\n**IDs:**\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	return b.String()
}

// ParseSubmissionBody reconstructs the prompt from a submission body. The
// metadata JSON block is authoritative when present; legacy bodies fall back
// to labeled-field extraction. Both failing is ErrManualMerge.
func ParseSubmissionBody(body string) (*models.Prompt, error) {
	if m := reMetadata.FindStringSubmatch(body); m != nil {
		var p models.Prompt
		if err := json.Unmarshal([]byte(m[1]), &p); err == nil && p.Title != "" {
			return &p, nil
		}
		// corrupt block: fall through to the legacy parser
	}

	title := reTitle.FindStringSubmatch(body)
	category := reCategory.FindStringSubmatch(body)
	promptText := rePrompt.FindStringSubmatch(body)
	if title == nil || category == nil || promptText == nil {
		return nil, ErrManualMerge
	}

	p := models.Prompt{
		Title:    strings.TrimSpace(title[1]),
		Category: strings.TrimSpace(category[1]),
		Prompt:   strings.TrimSpace(promptText[1]),
		Status:   models.StatusPublished,
	}
	if m := reDesc.FindStringSubmatch(body); m != nil {
		p.Description = strings.TrimSpace(m[1])
	}
	if m := reTags.FindStringSubmatch(body); m != nil {
		for _, t := range strings.Split(m[1], ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.Tags = append(p.Tags, t)
			}
		}
	}
	if m := reStatus.FindStringSubmatch(body); m != nil {
		if s := strings.TrimSpace(m[1]); s != "" {
			p.Status = s
		}
	}
	if m := reImages.FindStringSubmatch(body); m != nil {
		p.Images = parseImages(m[1])
		if len(p.Images) > 0 {
			p.ImageURL = p.Images[0]
		}
	}
	return &p, nil
}

// parseImages accepts the JSON array form and the loose comma list older
// submissions used.
func parseImages(raw string) []string {
	raw = strings.TrimSpace(raw)
	var images []string
	if err := json.Unmarshal([]byte(raw), &images); err == nil {
		return images
	}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			images = append(images, s)
		}
	}
	return images
}

// ParseOriginalID extracts the target id of an update submission body.
func ParseOriginalID(body string) string {
	if m := reOrigID.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ParseBatchIDs extracts the bullet list of a batch-delete body.
func ParseBatchIDs(body string) []string {
	var ids []string
	for _, m := range reBatchID.FindAllStringSubmatch(body, -1) {
		if id := strings.TrimSpace(m[1]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
