package scm

import (
	"context"
	"time"
)

// Project is the subset of remote project metadata the service needs.
type Project struct {
	ID        int
	Name      string
	WebURL    string
	GroupID   int
	GroupName string
}

// User is the subset of remote user metadata the service needs.
type User struct {
	ID       int
	Name     string
	Username string
	Email    string
}

// MergeRequest is the subset of remote merge request metadata the service
// needs. IID is the project-scoped identifier used in links and in the
// push ledger.
type MergeRequest struct {
	ID           int
	IID          int
	ProjectID    int
	Title        string
	Description  string
	State        string
	MergeStatus  string
	SourceBranch string
	TargetBranch string
	WebURL       string
	AuthorID     int
	AuthorName   string
	AssigneeID   int
	CreatedAt    time.Time
}

// Client resolves remote source-control state. Implementations return
// model.ErrNotFound when the remote answers 404; any other failure is a
// transport or application error and aborts the caller's event.
type Client interface {
	GetProject(ctx context.Context, projectID int) (Project, error)
	GetProjectByPath(ctx context.Context, group, name string) (Project, error)
	GetUser(ctx context.Context, userID int) (User, error)
	FindUserIDByUsername(ctx context.Context, username string) (int, error)
	GetBranch(ctx context.Context, projectID int, name string) error
	CreateMergeRequest(ctx context.Context, targetProjectID int, sourceBranch, targetBranch, title, description string) (MergeRequest, error)
	GetMergeRequest(ctx context.Context, projectID, mergeRequestIID int) (MergeRequest, error)
	GroupMemberEmails(ctx context.Context, groupID int) ([]string, error)
	ProjectMemberEmails(ctx context.Context, projectID int) ([]string, error)
	AddWebhook(ctx context.Context, projectID int, url, token string) (int, error)
	DeleteWebhook(ctx context.Context, projectID, hookID int) error
}
