package model

import (
	"strings"
	"time"
)

// ReviewerMode selects the base set of reviewer addresses for a project.
type ReviewerMode string

const (
	ReviewerModeNone    ReviewerMode = "NONE"
	ReviewerModeGroup   ReviewerMode = "GROUP"
	ReviewerModeProject ReviewerMode = "PROJECT"
)

// ReviewerModeFromString parses a mode name case-insensitively. Returns
// false when the value names no known mode.
func ReviewerModeFromString(s string) (ReviewerMode, bool) {
	switch ReviewerMode(strings.ToUpper(strings.TrimSpace(s))) {
	case ReviewerModeNone:
		return ReviewerModeNone, true
	case ReviewerModeGroup:
		return ReviewerModeGroup, true
	case ReviewerModeProject:
		return ReviewerModeProject, true
	}
	return "", false
}

// ProjectPolicy is the per-project review configuration. Read-only to the
// event processor; mutated only through the admin surface.
type ProjectPolicy struct {
	ID                      int64        `json:"id"`
	ProjectID               int          `json:"project_id"`
	CreatedAt               time.Time    `json:"created_at"`
	Enabled                 bool         `json:"enabled"`
	HookID                  int          `json:"hook_id"`
	ReviewerMode            ReviewerMode `json:"reviewer_mode"`
	IncludeDefaultReviewers bool         `json:"include_default_reviewers"`
	IncludeList             []string     `json:"include_list"`
	ExcludeList             []string     `json:"exclude_list"`
}

// RoutingRule declares which source branches flow to which target branch
// for review. Both patterns are regular expressions matched against the
// full branch name.
type RoutingRule struct {
	ID            int64  `json:"id"`
	ProjectID     int    `json:"project_id"`
	SourcePattern string `json:"source_pattern"`
	TargetPattern string `json:"target_pattern"`
}

// PushRecord tracks the review lifecycle of one pushed branch.
//
// MergeRequestID == 0 means the push has not been submitted for review yet.
// The zero sentinel is load-bearing: the awaiting-submission uniqueness
// constraint and the ledger queries key off it.
type PushRecord struct {
	ID             int64      `json:"id"`
	ReceivedAt     time.Time  `json:"received_at"`
	UserID         int        `json:"user_id"`
	ProjectID      int        `json:"project_id"`
	Branch         string     `json:"branch"`
	Before         string     `json:"before"`
	After          string     `json:"after"`
	MergeRequestID int        `json:"merge_request_id"`
	MergeStatusAt  *time.Time `json:"merge_status_at,omitempty"`
	MergeState     string     `json:"merge_state,omitempty"`
	MergeStatus    string     `json:"merge_status,omitempty"`
	MergedByID     int        `json:"merged_by_id,omitempty"`
}

// PushEvent is the decoded push webhook payload.
type PushEvent struct {
	UserID    int
	UserEmail string
	ProjectID int
	Ref       string
	Before    string
	After     string
}

// Branch strips the branch ref prefix. Returns "" for non-branch refs.
func (e PushEvent) Branch() string {
	const prefix = "refs/heads/"
	if !strings.HasPrefix(e.Ref, prefix) {
		return ""
	}
	return e.Ref[len(prefix):]
}

// MergeRequestEvent is the decoded merge request webhook payload.
type MergeRequestEvent struct {
	SourceBranch    string
	AuthorID        int
	TargetProjectID int
	IID             int
	MergeRequestID  int
	State           string
	MergeStatus     string
	UpdatedAt       time.Time

	// Acting user, when the payload carries one.
	ActingUserID       int
	ActingUserUsername string
}

type AppError string

func (e AppError) Error() string { return string(e) }

const (
	ErrNotFound  = AppError("NOT_FOUND")
	ErrDuplicate = AppError("DUPLICATE")
)
