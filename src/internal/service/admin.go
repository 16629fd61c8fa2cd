package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/api/apiErrors"
	"github.com/simplereview/review-service/src/internal/model"
)

// gitflowRules is the preset rule set for a standard GitFlow workflow.
var gitflowRules = [][2]string{
	{"feature/.*", "develop"},
	{"bug/.*", "develop"},
	{"develop", "master"},
	{"develop", "release/.*"},
	{"hotfix/.*", "master"},
	{"release/.*", "master"},
}

// PolicyRequest carries the admin form fields for creating or updating a
// project's review configuration. Nil pointer fields are left unchanged
// on update.
type PolicyRequest struct {
	Enabled                 *bool
	ReviewerMode            *string
	IncludeList             []string
	ExcludeList             []string
	IncludeDefaultReviewers *bool
	GitflowRules            bool
}

// GetProjectConfig returns the review configuration for a project
// addressed by its group and name.
func (s *Service) GetProjectConfig(ctx context.Context, group, name string) (model.ProjectPolicy, error) {
	project, err := s.scm.GetProjectByPath(ctx, group, name)
	if err != nil {
		s.log.Warn("could not resolve project", zap.String("group", group), zap.String("project", name), zap.Error(err))
		return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not load project info from the GitLab server"}
	}

	policy, err := s.repo.GetPolicy(ctx, project.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.NotFound, Message: "project is not configured in the review system"}
		}
		return model.ProjectPolicy{}, err
	}
	return policy, nil
}

// AddProjectConfig onboards a project: it creates the policy, optionally
// installs the GitFlow preset rules, and registers the push/merge webhook
// at the GitLab server. Webhook registration failure rolls the policy
// back so onboarding stays all-or-nothing.
func (s *Service) AddProjectConfig(ctx context.Context, group, name string, req PolicyRequest) (model.ProjectPolicy, error) {
	project, err := s.scm.GetProjectByPath(ctx, group, name)
	if err != nil {
		s.log.Warn("could not resolve project", zap.String("group", group), zap.String("project", name), zap.Error(err))
		return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not load project info from the GitLab server"}
	}

	if _, err := s.repo.GetPolicy(ctx, project.ID); err == nil {
		return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.ProjectExists, Message: "this project is already in the system, use PUT to make modifications"}
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.ProjectPolicy{}, err
	}

	mode := model.ReviewerModeProject
	if req.ReviewerMode != nil {
		parsed, okMode := model.ReviewerModeFromString(*req.ReviewerMode)
		if !okMode {
			return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.InvalidMode, Message: "invalid reviewer mode " + *req.ReviewerMode}
		}
		mode = parsed
	}

	policy := model.ProjectPolicy{
		ProjectID:    project.ID,
		CreatedAt:    s.now(),
		Enabled:      true,
		ReviewerMode: mode,
		IncludeList:  req.IncludeList,
		ExcludeList:  req.ExcludeList,
	}
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}
	if req.IncludeDefaultReviewers != nil {
		policy.IncludeDefaultReviewers = *req.IncludeDefaultReviewers
	}

	if policy, err = s.repo.CreatePolicy(ctx, policy); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.ProjectExists, Message: "this project is already in the system"}
		}
		return model.ProjectPolicy{}, err
	}

	if req.GitflowRules {
		if err := s.installGitflowRules(ctx, project.ID); err != nil {
			s.log.Error("could not install gitflow rules", zap.Int("project_id", project.ID), zap.Error(err))
		}
	}

	hookURL := joinURL(s.cfg.Review.ServiceURL, "webhook")
	hookID, err := s.scm.AddWebhook(ctx, project.ID, hookURL, s.cfg.Webhook.Secret)
	if err != nil {
		s.log.Error("could not register webhook, rolling back policy",
			zap.Int("project_id", project.ID), zap.Error(err))
		if delErr := s.repo.DeletePolicy(ctx, project.ID); delErr != nil {
			s.log.Error("rollback failed", zap.Int("project_id", project.ID), zap.Error(delErr))
		}
		return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not register the project webhook at the GitLab server"}
	}
	if err := s.repo.SetPolicyHookID(ctx, policy.ID, hookID); err != nil {
		return model.ProjectPolicy{}, err
	}
	policy.HookID = hookID

	s.log.Info("project onboarded", zap.String("group", group), zap.String("project", name), zap.Int("project_id", project.ID))
	return policy, nil
}

// UpdateProjectConfig applies a partial update to a project's review
// configuration.
func (s *Service) UpdateProjectConfig(ctx context.Context, group, name string, req PolicyRequest) (model.ProjectPolicy, error) {
	project, err := s.scm.GetProjectByPath(ctx, group, name)
	if err != nil {
		return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not load project info from the GitLab server"}
	}

	policy, err := s.repo.GetPolicy(ctx, project.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.NotFound, Message: "project is not configured in the review system"}
		}
		return model.ProjectPolicy{}, err
	}

	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}
	if req.ReviewerMode != nil {
		mode, okMode := model.ReviewerModeFromString(*req.ReviewerMode)
		if !okMode {
			return model.ProjectPolicy{}, apiErrors.APIError{Code: apiErrors.InvalidMode, Message: "invalid reviewer mode " + *req.ReviewerMode}
		}
		policy.ReviewerMode = mode
	}
	if req.IncludeList != nil {
		policy.IncludeList = req.IncludeList
	}
	if req.ExcludeList != nil {
		policy.ExcludeList = req.ExcludeList
	}
	if req.IncludeDefaultReviewers != nil {
		policy.IncludeDefaultReviewers = *req.IncludeDefaultReviewers
	}

	if err := s.repo.UpdatePolicy(ctx, policy); err != nil {
		return model.ProjectPolicy{}, err
	}

	if req.GitflowRules {
		if err := s.repo.ClearRoutingRules(ctx, project.ID); err != nil {
			return model.ProjectPolicy{}, err
		}
		if err := s.installGitflowRules(ctx, project.ID); err != nil {
			return model.ProjectPolicy{}, err
		}
	}

	s.log.Info("project config updated", zap.String("group", group), zap.String("project", name))
	return policy, nil
}

// DeleteProjectConfig removes a project from the system and unregisters
// its webhook at the GitLab server.
func (s *Service) DeleteProjectConfig(ctx context.Context, group, name string) error {
	project, err := s.scm.GetProjectByPath(ctx, group, name)
	if err != nil {
		return apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not load project info from the GitLab server"}
	}

	policy, err := s.repo.GetPolicy(ctx, project.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return apiErrors.APIError{Code: apiErrors.NotFound, Message: "project is not configured in the review system"}
		}
		return err
	}

	if policy.HookID != 0 {
		if err := s.scm.DeleteWebhook(ctx, project.ID, policy.HookID); err != nil {
			s.log.Warn("could not delete project webhook", zap.Int("project_id", project.ID), zap.Error(err))
			return apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not delete the project webhook from the GitLab server"}
		}
	}

	if err := s.repo.DeletePolicy(ctx, project.ID); err != nil {
		return err
	}
	s.log.Info("project config deleted", zap.String("group", group), zap.String("project", name))
	return nil
}

// ListRoutingRules returns a project's routing rules in insertion order.
func (s *Service) ListRoutingRules(ctx context.Context, group, name string) ([]model.RoutingRule, error) {
	project, err := s.scm.GetProjectByPath(ctx, group, name)
	if err != nil {
		return nil, apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not load project info from the GitLab server"}
	}
	if _, err := s.repo.GetPolicy(ctx, project.ID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, apiErrors.APIError{Code: apiErrors.NotFound, Message: "project is not configured in the review system"}
		}
		return nil, err
	}
	return s.repo.ListRoutingRules(ctx, project.ID)
}

// AddRoutingRule appends one routing rule to a project.
func (s *Service) AddRoutingRule(ctx context.Context, group, name, sourcePattern, targetPattern string) (model.RoutingRule, error) {
	project, err := s.scm.GetProjectByPath(ctx, group, name)
	if err != nil {
		return model.RoutingRule{}, apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not load project info from the GitLab server"}
	}
	if _, err := s.repo.GetPolicy(ctx, project.ID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.RoutingRule{}, apiErrors.APIError{Code: apiErrors.NotFound, Message: "project is not configured in the review system"}
		}
		return model.RoutingRule{}, err
	}

	rule, err := s.repo.AddRoutingRule(ctx, model.RoutingRule{
		ProjectID:     project.ID,
		SourcePattern: sourcePattern,
		TargetPattern: targetPattern,
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return model.RoutingRule{}, apiErrors.APIError{Code: apiErrors.RuleExists, Message: "an identical routing rule already exists for this project"}
		}
		return model.RoutingRule{}, err
	}
	return rule, nil
}

// DeleteRoutingRule removes one routing rule from a project.
func (s *Service) DeleteRoutingRule(ctx context.Context, group, name, sourcePattern, targetPattern string) error {
	project, err := s.scm.GetProjectByPath(ctx, group, name)
	if err != nil {
		return apiErrors.APIError{Code: apiErrors.RemoteError, Message: "could not load project info from the GitLab server"}
	}
	if err := s.repo.DeleteRoutingRule(ctx, project.ID, sourcePattern, targetPattern); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return apiErrors.APIError{Code: apiErrors.NotFound, Message: "no matching routing rule for this project"}
		}
		return err
	}
	return nil
}

func (s *Service) installGitflowRules(ctx context.Context, projectID int) error {
	for _, pair := range gitflowRules {
		_, err := s.repo.AddRoutingRule(ctx, model.RoutingRule{
			ProjectID:     projectID,
			SourcePattern: pair[0],
			TargetPattern: pair[1],
		})
		if err != nil && !errors.Is(err, model.ErrDuplicate) {
			return err
		}
	}
	return nil
}
