package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
)

// ReviewInfo describes the review context shown by the submission form.
type ReviewInfo struct {
	Group          string   `json:"group"`
	ProjectID      int      `json:"project_id"`
	ProjectName    string   `json:"project_name"`
	ProjectURL     string   `json:"project_url"`
	SourceBranch   string   `json:"source_branch"`
	UserID         int      `json:"user_id"`
	UserName       string   `json:"user_name"`
	Email          string   `json:"email"`
	GitLabWebURL   string   `json:"gitlab_web_url"`
	TargetBranch   string   `json:"target_branch,omitempty"`
	TargetBranches []string `json:"target_branches,omitempty"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
}

// VerifyReviewLink checks the signature of a review link against its path
// parameters.
func (s *Service) VerifyReviewLink(projectID int, branch string, userID int, signature string) bool {
	return s.signer.Verify(signature, projectID, branch, userID)
}

// LoadReview assembles the data behind a signed review link: project and
// user detail plus either the candidate target branches for a new
// submission or the state of the review already in flight.
func (s *Service) LoadReview(ctx context.Context, projectID int, branch string, userID int) (Outcome, *ReviewInfo, error) {
	log := s.log.With(
		zap.Int("project_id", projectID), zap.String("branch", branch), zap.Int("user_id", userID))
	log.Info("loading review info")

	if _, err := s.repo.GetPolicy(ctx, projectID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return failed("The specified project was not found in the review system."), nil, nil
		}
		return Outcome{}, nil, fmt.Errorf("load project policy: %w", err)
	}

	rules, err := s.repo.ListRoutingRules(ctx, projectID)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("load routing rules: %w", err)
	}
	if !s.router.Matches(branch, rules) {
		return failed("The specified branch is not configured to trigger code reviews."), nil, nil
	}

	project, err := s.scm.GetProject(ctx, projectID)
	if err != nil {
		log.Error("could not resolve project", zap.Error(err))
		return failed("Could not load project info for code review."), nil, nil
	}
	user, err := s.scm.GetUser(ctx, userID)
	if err != nil {
		log.Error("could not resolve user", zap.Error(err))
		return failed("Could not load user info for code review."), nil, nil
	}

	info := &ReviewInfo{
		Group:        project.GroupName,
		ProjectID:    projectID,
		ProjectName:  project.Name,
		ProjectURL:   project.WebURL,
		SourceBranch: branch,
		UserID:       userID,
		UserName:     user.Name,
		Email:        user.Email,
		GitLabWebURL: s.cfg.GitLab.WebURL,
	}

	pending, err := s.repo.FindPendingReviews(ctx, userID, projectID, branch)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("query pending reviews: %w", err)
	}
	if len(pending) > 0 {
		log.Info("branch is already pending review")
		if mr, err := s.scm.GetMergeRequest(ctx, projectID, pending[0].MergeRequestID); err != nil {
			log.Warn("could not resolve pending merge request", zap.Error(err))
		} else {
			info.Title = mr.Title
			info.Description = mr.Description
			info.TargetBranch = mr.TargetBranch
			info.TargetBranches = []string{mr.TargetBranch}
		}
		return noAction("This branch push is already pending review."), info, nil
	}

	if _, err := s.repo.FindAwaitingSubmission(ctx, userID, projectID, branch); err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return Outcome{}, nil, fmt.Errorf("query awaiting submission: %w", err)
		}
		// Nothing awaiting: report how the last push for this branch ended.
		rec, err := s.repo.FindMostRecent(ctx, userID, projectID, branch)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return noAction("This branch push has already been reviewed."), info, nil
			}
			return Outcome{}, nil, fmt.Errorf("query most recent push: %w", err)
		}
		return noAction(fmt.Sprintf(
			"This branch push has already been submitted for review, current state is %q.", rec.MergeState)), info, nil
	}

	info.TargetBranches = s.router.Targets(branch, rules)
	if len(info.TargetBranches) > 0 {
		info.TargetBranch = info.TargetBranches[0]
	}
	return ok(""), info, nil
}

