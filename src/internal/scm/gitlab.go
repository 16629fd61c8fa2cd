package scm

import (
	"context"
	"fmt"
	"net/http"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
)

// GitLabClient implements Client against a GitLab server.
type GitLabClient struct {
	api *gitlab.Client
	log *zap.Logger
}

func NewGitLabClient(apiURL, token string, logger *zap.Logger) (*GitLabClient, error) {
	api, err := gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %w", err)
	}
	return &GitLabClient{api: api, log: logger}, nil
}

func (c *GitLabClient) GetProject(ctx context.Context, projectID int) (Project, error) {
	p, resp, err := c.api.Projects.GetProject(projectID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return Project{}, wrapErr("get project", resp, err)
	}
	return mapProject(p), nil
}

func (c *GitLabClient) GetProjectByPath(ctx context.Context, group, name string) (Project, error) {
	path := group + "/" + name
	p, resp, err := c.api.Projects.GetProject(path, nil, gitlab.WithContext(ctx))
	if err != nil {
		return Project{}, wrapErr("get project by path", resp, err)
	}
	return mapProject(p), nil
}

func (c *GitLabClient) GetUser(ctx context.Context, userID int) (User, error) {
	u, resp, err := c.api.Users.GetUser(userID, gitlab.GetUsersOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return User{}, wrapErr("get user", resp, err)
	}
	return User{ID: u.ID, Name: u.Name, Username: u.Username, Email: u.Email}, nil
}

func (c *GitLabClient) FindUserIDByUsername(ctx context.Context, username string) (int, error) {
	users, resp, err := c.api.Users.ListUsers(
		&gitlab.ListUsersOptions{Username: gitlab.Ptr(username)},
		gitlab.WithContext(ctx))
	if err != nil {
		return 0, wrapErr("find user by username", resp, err)
	}
	if len(users) == 0 {
		return 0, model.ErrNotFound
	}
	return users[0].ID, nil
}

func (c *GitLabClient) GetBranch(ctx context.Context, projectID int, name string) error {
	_, resp, err := c.api.Branches.GetBranch(projectID, name, gitlab.WithContext(ctx))
	if err != nil {
		return wrapErr("get branch", resp, err)
	}
	return nil
}

func (c *GitLabClient) CreateMergeRequest(ctx context.Context, targetProjectID int, sourceBranch, targetBranch, title, description string) (MergeRequest, error) {
	mr, resp, err := c.api.MergeRequests.CreateMergeRequest(targetProjectID,
		&gitlab.CreateMergeRequestOptions{
			Title:        gitlab.Ptr(title),
			Description:  gitlab.Ptr(description),
			SourceBranch: gitlab.Ptr(sourceBranch),
			TargetBranch: gitlab.Ptr(targetBranch),
		},
		gitlab.WithContext(ctx))
	if err != nil {
		return MergeRequest{}, wrapErr("create merge request", resp, err)
	}
	return mapMergeRequest(mr), nil
}

func (c *GitLabClient) GetMergeRequest(ctx context.Context, projectID, mergeRequestIID int) (MergeRequest, error) {
	mr, resp, err := c.api.MergeRequests.GetMergeRequest(projectID, mergeRequestIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return MergeRequest{}, wrapErr("get merge request", resp, err)
	}
	return mapMergeRequest(mr), nil
}

// GroupMemberEmails resolves each group member to a user record because
// the membership listing rarely carries email addresses. Members without
// a visible email are skipped.
func (c *GitLabClient) GroupMemberEmails(ctx context.Context, groupID int) ([]string, error) {
	members, resp, err := c.api.Groups.ListGroupMembers(groupID,
		&gitlab.ListGroupMembersOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("list group members", resp, err)
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return c.memberEmails(ctx, ids), nil
}

func (c *GitLabClient) ProjectMemberEmails(ctx context.Context, projectID int) ([]string, error) {
	members, resp, err := c.api.ProjectMembers.ListProjectMembers(projectID,
		&gitlab.ListProjectMembersOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("list project members", resp, err)
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return c.memberEmails(ctx, ids), nil
}

func (c *GitLabClient) memberEmails(ctx context.Context, userIDs []int) []string {
	emails := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := c.GetUser(ctx, id)
		if err != nil {
			c.log.Warn("could not resolve member email", zap.Int("user_id", id), zap.Error(err))
			continue
		}
		if u.Email != "" {
			emails = append(emails, u.Email)
		}
	}
	return emails
}

func (c *GitLabClient) AddWebhook(ctx context.Context, projectID int, url, token string) (int, error) {
	hook, resp, err := c.api.Projects.AddProjectHook(projectID,
		&gitlab.AddProjectHookOptions{
			URL:                 gitlab.Ptr(url),
			PushEvents:          gitlab.Ptr(true),
			MergeRequestsEvents: gitlab.Ptr(true),
			Token:               gitlab.Ptr(token),
		},
		gitlab.WithContext(ctx))
	if err != nil {
		return 0, wrapErr("add webhook", resp, err)
	}
	return hook.ID, nil
}

func (c *GitLabClient) DeleteWebhook(ctx context.Context, projectID, hookID int) error {
	resp, err := c.api.Projects.DeleteProjectHook(projectID, hookID, gitlab.WithContext(ctx))
	if err != nil {
		return wrapErr("delete webhook", resp, err)
	}
	return nil
}

func mapProject(p *gitlab.Project) Project {
	out := Project{ID: p.ID, Name: p.Name, WebURL: p.WebURL}
	if p.Namespace != nil {
		out.GroupID = p.Namespace.ID
		out.GroupName = p.Namespace.Name
	}
	return out
}

func mapMergeRequest(mr *gitlab.MergeRequest) MergeRequest {
	out := MergeRequest{
		ID:           mr.ID,
		IID:          mr.IID,
		ProjectID:    mr.ProjectID,
		Title:        mr.Title,
		Description:  mr.Description,
		State:        mr.State,
		MergeStatus:  mr.MergeStatus,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		WebURL:       mr.WebURL,
	}
	if mr.Author != nil {
		out.AuthorID = mr.Author.ID
		out.AuthorName = mr.Author.Name
	}
	if mr.Assignee != nil {
		out.AssigneeID = mr.Assignee.ID
	}
	if mr.CreatedAt != nil {
		out.CreatedAt = *mr.CreatedAt
	}
	return out
}

func wrapErr(op string, resp *gitlab.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return model.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
