package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
	"github.com/simplereview/review-service/src/internal/scm"
)

const (
	mergeStateMerged = "merged"
	mergeStateClosed = "closed"
)

// HandleMergeEvent processes a merge request state change. Only merged and
// closed states touch the ledger; all other webhook noise is ignored.
// Redelivered events are detected against the stored state so a replay
// never re-applies a transition.
func (s *Service) HandleMergeEvent(ctx context.Context, ev model.MergeRequestEvent) error {
	log := s.log.With(
		zap.Int("user_id", ev.AuthorID),
		zap.Int("project_id", ev.TargetProjectID),
		zap.Int("merge_request_iid", ev.IID),
		zap.String("state", ev.State))
	log.Info("merge request notification received", zap.String("merge_status", ev.MergeStatus))

	if ev.State != mergeStateMerged && ev.State != mergeStateClosed {
		return nil
	}

	// Re-fetch the merge request rather than trusting payload fields: the
	// webhook body may be stale or forged.
	mr, err := s.scm.GetMergeRequest(ctx, ev.TargetProjectID, ev.IID)
	if err != nil {
		log.Error("could not resolve merge request", zap.Error(err))
		return fmt.Errorf("resolve merge request: %w", err)
	}

	rec, err := s.repo.FindBySubmission(ctx, ev.AuthorID, ev.TargetProjectID, ev.SourceBranch, ev.IID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Warn("no push record matches this merge request")
			return nil
		}
		return fmt.Errorf("query push record: %w", err)
	}

	if rec.MergeState == ev.State {
		log.Info("push record already reflects this state, ignoring replay")
		return nil
	}
	if rec.MergeState == mergeStateMerged || rec.MergeState == mergeStateClosed {
		log.Warn("push record is already in a terminal state, ignoring out-of-order transition",
			zap.String("recorded_state", rec.MergeState))
		return nil
	}

	var mergedByID int
	if ev.State == mergeStateMerged {
		mergedByID = s.resolveMergedBy(ctx, ev, mr)
	}

	if err := s.repo.SetMergeState(ctx, rec.ID, ev.UpdatedAt, ev.State, ev.MergeStatus, mergedByID); err != nil {
		return fmt.Errorf("update push record: %w", err)
	}
	log.Info("updated push record", zap.Int64("id", rec.ID), zap.Int("merged_by_id", mergedByID))
	return nil
}

// resolveMergedBy determines who merged the request: the acting user's ID
// when the payload carries one, else a username lookup, else the merge
// request's assignee, else 0 for unknown.
func (s *Service) resolveMergedBy(ctx context.Context, ev model.MergeRequestEvent, mr scm.MergeRequest) int {
	if ev.ActingUserID > 0 {
		return ev.ActingUserID
	}
	if ev.ActingUserUsername != "" {
		id, err := s.scm.FindUserIDByUsername(ctx, ev.ActingUserUsername)
		if err != nil {
			s.log.Warn("could not resolve merging user by username",
				zap.String("username", ev.ActingUserUsername), zap.Error(err))
		} else if id > 0 {
			return id
		}
	}
	return mr.AssigneeID
}
