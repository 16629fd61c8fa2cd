package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/mail"
	"github.com/simplereview/review-service/src/internal/model"
)

// SubmitRequest carries the fields of the review submission form.
type SubmitRequest struct {
	UserID          int
	SourceProjectID int
	SourceBranch    string
	TargetProjectID int
	TargetBranch    string
	Title           string
	Description     string
}

// Submit creates the merge request for an awaiting-submission push and
// notifies the resolved reviewer set. The distinguished no-action outcomes
// (project not configured, reviews disabled, nothing to submit, remote
// conflict) each carry their own message because the caller is a human on
// the submission form. A remote conflict leaves the record awaiting
// submission so a later push can retry.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Outcome, error) {
	log := s.log.With(
		zap.Int("user_id", req.UserID),
		zap.Int("source_project_id", req.SourceProjectID),
		zap.String("source_branch", req.SourceBranch),
		zap.Int("target_project_id", req.TargetProjectID),
		zap.String("target_branch", req.TargetBranch))
	log.Info("review submission received")

	policy, err := s.repo.GetPolicy(ctx, req.TargetProjectID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Info("target project is not configured for code reviews")
			return noAction("The specified project was not found in the review system."), nil
		}
		return Outcome{}, fmt.Errorf("load project policy: %w", err)
	}
	if !policy.Enabled {
		log.Info("target project has code reviews disabled")
		return noAction("The target project does not have code reviews enabled."), nil
	}

	rec, err := s.repo.FindAwaitingSubmission(ctx, req.UserID, req.SourceProjectID, req.SourceBranch)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Info("no branch pushes are available for review")
			return noAction("This branch is already pending review."), nil
		}
		return Outcome{}, fmt.Errorf("query awaiting submission: %w", err)
	}

	mr, err := s.scm.CreateMergeRequest(ctx, req.TargetProjectID,
		req.SourceBranch, req.TargetBranch, req.Title, req.Description)
	if err != nil {
		// Conflict or branch gone; the record stays awaiting submission
		// so a future push can retry.
		log.Error("could not create merge request", zap.Error(err))
		return noAction("This branch has already been merged or deleted."), nil
	}

	submittedAt := mr.CreatedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}
	if err := s.repo.SetSubmission(ctx, rec.ID, mr.IID, submittedAt, mr.State, mr.MergeStatus); err != nil {
		return Outcome{}, fmt.Errorf("record submission: %w", err)
	}
	log.Info("push record submitted", zap.Int64("id", rec.ID), zap.Int("merge_request_iid", mr.IID))

	s.notifyReviewers(ctx, policy, mr.IID, req, log)

	return ok("Your request for code review and merge has been submitted."), nil
}

// notifyReviewers resolves the recipient set and sends the merge request
// notification. Failures here never fail the submission: the merge request
// exists and the ledger is updated, so everything is logged and dropped.
func (s *Service) notifyReviewers(ctx context.Context, policy model.ProjectPolicy, mergeRequestIID int, req SubmitRequest, log *zap.Logger) {
	project, err := s.scm.GetProject(ctx, req.TargetProjectID)
	if err != nil {
		log.Error("could not resolve target project for reviewer notification", zap.Error(err))
		return
	}
	author, err := s.scm.GetUser(ctx, req.UserID)
	if err != nil {
		log.Error("could not resolve author for reviewer notification", zap.Error(err))
		return
	}

	var groupEmails, projectEmails []string
	switch policy.ReviewerMode {
	case model.ReviewerModeGroup:
		if groupEmails, err = s.scm.GroupMemberEmails(ctx, project.GroupID); err != nil {
			log.Error("could not list group members", zap.Error(err))
		}
	case model.ReviewerModeProject:
		if projectEmails, err = s.scm.ProjectMemberEmails(ctx, req.TargetProjectID); err != nil {
			log.Error("could not list project members", zap.Error(err))
		}
	case model.ReviewerModeNone:
	}

	recipients := ResolveReviewers(policy, groupEmails, projectEmails, s.cfg.Review.DefaultReviewers, author.Email)
	if len(recipients) == 0 {
		log.Warn("no reviewers resolved for this project, skipping notification")
		return
	}

	subject, body, err := s.tpls.MergeRequest(mail.MergeRequestMail{
		AuthorName:       author.Name,
		GroupName:        project.GroupName,
		ProjectName:      project.Name,
		ProjectURL:       project.WebURL,
		SourceBranch:     req.SourceBranch,
		TargetBranch:     req.TargetBranch,
		Title:            req.Title,
		Description:      req.Description,
		MergeRequestLink: s.mergeRequestLink(project.GroupName, project.Name, mergeRequestIID),
	})
	if err != nil {
		log.Error("could not render merge request mail", zap.Error(err))
		return
	}
	if err := s.sender.Send(ctx, recipients, subject, body); err != nil {
		log.Error("could not send merge request mail", zap.Error(err))
	}
}
