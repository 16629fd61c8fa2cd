package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/mail"
	"github.com/simplereview/review-service/src/internal/model"
)

// HandlePushEvent processes a branch push notification. A qualifying push
// creates one awaiting-submission record and emails the pusher a signed
// link to the review submission form. Repeated pushes of a branch that is
// already awaiting submission or pending review are suppressed so the
// pusher is notified exactly once per review cycle.
func (s *Service) HandlePushEvent(ctx context.Context, ev model.PushEvent) error {
	branch := ev.Branch()
	log := s.log.With(
		zap.Int("user_id", ev.UserID),
		zap.Int("project_id", ev.ProjectID),
		zap.String("branch", branch))
	log.Info("branch push received")

	policy, err := s.repo.GetPolicy(ctx, ev.ProjectID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Info("project is not configured for code reviews")
			return nil
		}
		return fmt.Errorf("load project policy: %w", err)
	}
	if !policy.Enabled {
		log.Info("project has code reviews disabled")
		return nil
	}

	if branch == "" {
		log.Warn("push ref does not name a branch", zap.String("ref", ev.Ref))
		return nil
	}
	if branch == s.cfg.Review.DefaultBranch {
		log.Info("no code reviews are done on the default branch")
		return nil
	}

	rules, err := s.repo.ListRoutingRules(ctx, ev.ProjectID)
	if err != nil {
		return fmt.Errorf("load routing rules: %w", err)
	}
	if !s.router.Matches(branch, rules) {
		log.Info("pushed branch is not configured to trigger a review")
		return nil
	}

	project, err := s.scm.GetProject(ctx, ev.ProjectID)
	if err != nil {
		log.Error("could not resolve project", zap.Error(err))
		return fmt.Errorf("resolve project: %w", err)
	}

	user, err := s.scm.GetUser(ctx, ev.UserID)
	if err != nil {
		log.Error("could not resolve user", zap.Error(err))
		return fmt.Errorf("resolve user: %w", err)
	}
	if user.Email == "" {
		user.Email = ev.UserEmail
	}

	// A push event can race the deletion of its branch.
	if err := s.scm.GetBranch(ctx, ev.ProjectID, branch); err != nil {
		log.Error("could not resolve branch", zap.Error(err))
		return fmt.Errorf("resolve branch: %w", err)
	}

	if isDeletionMarker(ev.After) {
		log.Info("branch was deleted, nothing to review",
			zap.String("before", ev.Before), zap.String("after", ev.After))
		return nil
	}

	pending, err := s.repo.FindPendingReviews(ctx, ev.UserID, ev.ProjectID, branch)
	if err != nil {
		return fmt.Errorf("query pending reviews: %w", err)
	}
	if len(pending) > 0 {
		log.Info("branch is already pending review and merge")
		return nil
	}

	if _, err := s.repo.FindAwaitingSubmission(ctx, ev.UserID, ev.ProjectID, branch); err == nil {
		log.Info("push notification already sent for this branch")
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("query awaiting submission: %w", err)
	}

	rec := model.PushRecord{
		ReceivedAt: s.now(),
		UserID:     ev.UserID,
		ProjectID:  ev.ProjectID,
		Branch:     branch,
		Before:     ev.Before,
		After:      ev.After,
	}
	if rec, err = s.repo.CreatePush(ctx, rec); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			// A concurrent duplicate delivery won the insert race.
			log.Info("duplicate push event suppressed")
			return nil
		}
		return fmt.Errorf("create push record: %w", err)
	}
	log.Info("created push record", zap.Int64("id", rec.ID))

	if user.Email == "" {
		log.Warn("pusher has no email address, skipping notification")
		return nil
	}

	subject, body, err := s.tpls.CodeReview(mail.CodeReviewMail{
		UserName:    user.Name,
		GroupName:   project.GroupName,
		ProjectName: project.Name,
		ProjectURL:  project.WebURL,
		Branch:      branch,
		ReviewLink:  s.reviewLink(ev.ProjectID, branch, ev.UserID),
	})
	if err != nil {
		log.Error("could not render code review mail", zap.Error(err))
		return nil
	}
	if err := s.sender.Send(ctx, []string{user.Email}, subject, body); err != nil {
		log.Error("could not send code review mail", zap.Error(err))
	}
	return nil
}
