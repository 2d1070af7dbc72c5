package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/models"
)

// SubmitIssue files a suggestion as a repository issue. Issues are the
// no-write-access entry point: any authenticated user can open one, and an
// approver later replays it as a direct commit.
func (r *Repository) SubmitIssue(ctx context.Context, token, action string, item models.Prompt, originalID string, batchIDs []string) (string, error) {
	gh, err := r.NewClient(token)
	if err != nil {
		return "", err
	}

	var title, body string
	switch action {
	case models.ActionCreate:
		if !r.validCategory(item.Category) {
			return "", fmt.Errorf("%w: %s", ErrBadCategory, item.Category)
		}
		title = fmt.Sprintf("%s %s", issueTagSubmission, item.Title)
		body = EncodeSubmissionBody("New Prompt Submission", item, "")
	case models.ActionUpdate:
		if !r.validCategory(item.Category) {
			return "", fmt.Errorf("%w: %s", ErrBadCategory, item.Category)
		}
		// the target id rides in the title so reviewers and parsers can
		// resolve the edit without opening the body
		title = fmt.Sprintf("%s %s", issueTagUpdate, originalID)
		body = EncodeSubmissionBody("Update Prompt Request", item, originalID)
	case models.ActionDelete:
		title = fmt.Sprintf("%s %s", issueTagDelete, originalID)
		body = EncodeDeleteBody(originalID)
	case models.ActionBatchDelete:
		title = fmt.Sprintf("%s %d prompts", issueTagBatchDelete, len(batchIDs))
		body = EncodeBatchDeleteBody(batchIDs)
	default:
		return "", fmt.Errorf("prompt: unknown action %q", action)
	}

	issue, err := gh.CreateIssue(ctx, title, body)
	if err != nil {
		return "", err
	}
	return issue.HTMLURL, nil
}

func actionForTitle(title string) (string, bool) {
	switch {
	case strings.HasPrefix(title, issueTagSubmission), strings.HasPrefix(title, prPrefixAdd):
		return models.ActionCreate, true
	case strings.HasPrefix(title, issueTagUpdate), strings.HasPrefix(title, prPrefixUpdate):
		return models.ActionUpdate, true
	case strings.HasPrefix(title, issueTagDelete), strings.HasPrefix(title, prPrefixDelete):
		return models.ActionDelete, true
	case strings.HasPrefix(title, issueTagBatchDelete), strings.HasPrefix(title, prPrefixBatch):
		return models.ActionBatchDelete, true
	}
	return "", false
}

func submissionFromIssue(is github.Issue) *models.PendingSubmission {
	action, ok := actionForTitle(is.Title)
	if !ok {
		return nil
	}
	sub := &models.PendingSubmission{
		Type:   models.SubmissionIssue,
		Number: is.Number,
		Action: action,
		URL:    is.HTMLURL,
	}
	sub.SubmittedBy = is.User.Login
	sub.SubmittedAt = is.CreatedAt
	fillSubmission(sub, is.Title, is.Body)
	return sub
}

func submissionFromPull(pr github.PullRequest) *models.PendingSubmission {
	action, ok := actionForTitle(pr.Title)
	if !ok {
		return nil
	}
	sub := &models.PendingSubmission{
		Type:   models.SubmissionPull,
		Number: pr.Number,
		Action: action,
		URL:    pr.HTMLURL,
	}
	sub.SubmittedBy = pr.User.Login
	sub.SubmittedAt = pr.CreatedAt
	fillSubmission(sub, pr.Title, pr.Body)
	return sub
}

// fillSubmission extracts whatever the body yields. Parse failures are not
// fatal here: the listing still shows the submission, only with the raw title.
func fillSubmission(sub *models.PendingSubmission, title, body string) {
	switch sub.Action {
	case models.ActionBatchDelete:
		sub.BatchIDs = ParseBatchIDs(body)
		sub.Title = title
	case models.ActionDelete:
		if ids := ParseBatchIDs(body); len(ids) > 0 {
			sub.OriginalID = ids[0]
		} else if m := reOrigID.FindStringSubmatch(body); m != nil {
			sub.OriginalID = strings.TrimSpace(m[1])
		} else if m := strings.SplitN(title, " ", 3); len(m) == 2 {
			sub.OriginalID = m[1]
		}
		sub.Title = title
	default:
		if p, err := ParseSubmissionBody(body); err == nil {
			sub.Prompt = *p
		} else {
			sub.Title = title
		}
		sub.OriginalID = ParseOriginalID(body)
	}
}

// PendingSubmissions lists every open issue and pull request that carries a
// recognized submission title, newest first as the API returns them.
func (r *Repository) PendingSubmissions(ctx context.Context, token string) ([]models.PendingSubmission, error) {
	gh, err := r.NewClient(token)
	if err != nil {
		return nil, err
	}
	issues, err := gh.ListIssues(ctx, "")
	if err != nil {
		return nil, err
	}
	pulls, err := gh.ListPullRequests(ctx)
	if err != nil {
		return nil, err
	}

	subs := make([]models.PendingSubmission, 0, len(issues)+len(pulls))
	for _, is := range issues {
		if s := submissionFromIssue(is); s != nil {
			subs = append(subs, *s)
		}
	}
	for _, pr := range pulls {
		if s := submissionFromPull(pr); s != nil {
			subs = append(subs, *s)
		}
	}
	return subs, nil
}

// UserSubmissions narrows the issue listing to one creator so users can track
// their own requests.
func (r *Repository) UserSubmissions(ctx context.Context, token, login string) ([]models.PendingSubmission, error) {
	gh, err := r.NewClient(token)
	if err != nil {
		return nil, err
	}
	issues, err := gh.ListIssues(ctx, login)
	if err != nil {
		return nil, err
	}
	subs := make([]models.PendingSubmission, 0, len(issues))
	for _, is := range issues {
		if s := submissionFromIssue(is); s != nil {
			subs = append(subs, *s)
		}
	}
	return subs, nil
}

// Approve lands a submission. Pull requests are squash-merged; issues are
// replayed as a direct commit from the parsed body and then closed. An
// unparseable issue body is ErrManualMerge and the issue stays open.
func (r *Repository) Approve(ctx context.Context, token string, kind string, number int) error {
	gh, err := r.NewClient(token)
	if err != nil {
		return err
	}

	if kind == models.SubmissionPull {
		if err := gh.MergePullRequest(ctx, number); err != nil {
			return err
		}
		r.Cache.Invalidate(ctx)
		return nil
	}

	issue, err := gh.GetIssue(ctx, number)
	if err != nil {
		return err
	}
	action, ok := actionForTitle(issue.Title)
	if !ok {
		return fmt.Errorf("prompt: issue #%d is not a submission", number)
	}

	switch action {
	case models.ActionCreate:
		p, perr := ParseSubmissionBody(issue.Body)
		if perr != nil {
			return perr
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt == "" {
			p.CreatedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if p.Status == "" {
			p.Status = models.StatusPublished
		}
		if p.Author == nil && issue.User.Login != "" {
			p.Author = &models.Author{Username: issue.User.Login, AvatarURL: issue.User.AvatarURL}
		}
		if _, err := r.Add(ctx, token, *p, true); err != nil {
			return err
		}
	case models.ActionUpdate:
		p, perr := ParseSubmissionBody(issue.Body)
		if perr != nil {
			return perr
		}
		target := ParseOriginalID(issue.Body)
		if target == "" {
			target = p.ID
		}
		if target == "" {
			return ErrManualMerge
		}
		_, err := r.Update(ctx, token, target, func(old models.Prompt) models.Prompt {
			next := *p
			next.CreatedAt = old.CreatedAt
			if next.Author == nil {
				next.Author = old.Author
			}
			return next
		}, true)
		if err != nil {
			return err
		}
	case models.ActionDelete:
		var sub models.PendingSubmission
		sub.Action = action
		fillSubmission(&sub, issue.Title, issue.Body)
		if sub.OriginalID == "" {
			return ErrManualMerge
		}
		if _, err := r.Delete(ctx, token, sub.OriginalID, true); err != nil {
			return err
		}
	case models.ActionBatchDelete:
		ids := ParseBatchIDs(issue.Body)
		if len(ids) == 0 {
			return ErrManualMerge
		}
		if _, _, err := r.BatchDelete(ctx, token, ids, true); err != nil {
			return err
		}
	}

	return gh.CloseIssue(ctx, number)
}

// Reject closes a submission without landing it.
func (r *Repository) Reject(ctx context.Context, token string, kind string, number int) error {
	gh, err := r.NewClient(token)
	if err != nil {
		return err
	}
	if kind == models.SubmissionPull {
		return gh.ClosePullRequest(ctx, number)
	}
	return gh.CloseIssue(ctx, number)
}

// Withdraw lets the original author retract their own open issue.
func (r *Repository) Withdraw(ctx context.Context, token, login string, number int) error {
	gh, err := r.NewClient(token)
	if err != nil {
		return err
	}
	issue, err := gh.GetIssue(ctx, number)
	if err != nil {
		return err
	}
	if issue.User.Login != login {
		return fmt.Errorf("prompt: issue #%d was not opened by %s", number, login)
	}
	return gh.CloseIssue(ctx, number)
}
