package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
)

const pushColumns = `id, received_at, user_id, project_id, branch, before_sha, after_sha,
	merge_request_id, merge_status_at, merge_state, merge_status, merged_by_id`

func scanPush(row interface{ Scan(...any) error }) (model.PushRecord, error) {
	var p model.PushRecord
	var statusAt sql.NullTime
	var state, status sql.NullString
	if err := row.Scan(&p.ID, &p.ReceivedAt, &p.UserID, &p.ProjectID, &p.Branch,
		&p.Before, &p.After, &p.MergeRequestID, &statusAt, &state, &status, &p.MergedByID); err != nil {
		return model.PushRecord{}, err
	}
	if statusAt.Valid {
		t := statusAt.Time
		p.MergeStatusAt = &t
	}
	p.MergeState = state.String
	p.MergeStatus = status.String
	return p, nil
}

func (r *Repositories) findOnePush(ctx context.Context, what, query string, args ...any) (model.PushRecord, error) {
	p, err := scanPush(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.Log.Debug(what+": not found")
			return model.PushRecord{}, model.ErrNotFound
		}
		r.Log.Error(what+": query failed", zap.Error(err))
		return model.PushRecord{}, err
	}
	return p, nil
}

// FindAwaitingSubmission returns the push record that has not been
// submitted for review yet, if one exists for the key.
func (r *Repositories) FindAwaitingSubmission(ctx context.Context, userID, projectID int, branch string) (model.PushRecord, error) {
	return r.findOnePush(ctx, "FindAwaitingSubmission",
		`SELECT `+pushColumns+` FROM pushes
		 WHERE user_id=$1 AND project_id=$2 AND branch=$3 AND merge_request_id=0
		 ORDER BY received_at DESC LIMIT 1`,
		userID, projectID, branch)
}

// FindBySubmission returns the newest push record with the exact submitted
// merge request ID. A zero mergeRequestID asks for the most recent
// unsubmitted record.
func (r *Repositories) FindBySubmission(ctx context.Context, userID, projectID int, branch string, mergeRequestID int) (model.PushRecord, error) {
	return r.findOnePush(ctx, "FindBySubmission",
		`SELECT `+pushColumns+` FROM pushes
		 WHERE user_id=$1 AND project_id=$2 AND branch=$3 AND merge_request_id=$4
		 ORDER BY received_at DESC LIMIT 1`,
		userID, projectID, branch, mergeRequestID)
}

// FindMostRecent returns the newest push record for the key regardless of
// submission state.
func (r *Repositories) FindMostRecent(ctx context.Context, userID, projectID int, branch string) (model.PushRecord, error) {
	return r.findOnePush(ctx, "FindMostRecent",
		`SELECT `+pushColumns+` FROM pushes
		 WHERE user_id=$1 AND project_id=$2 AND branch=$3
		 ORDER BY received_at DESC LIMIT 1`,
		userID, projectID, branch)
}

// FindPendingReviews returns the submitted-but-unresolved records for the
// key, newest first.
func (r *Repositories) FindPendingReviews(ctx context.Context, userID, projectID int, branch string) ([]model.PushRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+pushColumns+` FROM pushes
		 WHERE user_id=$1 AND project_id=$2 AND branch=$3
		   AND merge_request_id > 0 AND merge_status IS NULL
		 ORDER BY received_at DESC`,
		userID, projectID, branch)
	if err != nil {
		r.Log.Error("FindPendingReviews: query failed", zap.Error(err))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.Log.Error("FindPendingReviews: close rows failed", zap.Error(err))
		}
	}()

	var out []model.PushRecord
	for rows.Next() {
		p, err := scanPush(rows)
		if err != nil {
			r.Log.Error("FindPendingReviews: scan failed", zap.Error(err))
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePush persists a new push record and assigns its identity. The
// partial unique index on (user_id, project_id, branch) for unsubmitted
// records makes concurrent duplicate creation fail with ErrDuplicate
// instead of producing two awaiting-submission rows.
func (r *Repositories) CreatePush(ctx context.Context, rec model.PushRecord) (model.PushRecord, error) {
	r.Log.Debug("CreatePush: start",
		zap.Int("user_id", rec.UserID), zap.Int("project_id", rec.ProjectID), zap.String("branch", rec.Branch))

	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO pushes (received_at, user_id, project_id, branch, before_sha, after_sha, merge_request_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		rec.ReceivedAt, rec.UserID, rec.ProjectID, rec.Branch, rec.Before, rec.After, rec.MergeRequestID).
		Scan(&rec.ID)
	if err != nil {
		if isUniqueViolation(err) {
			r.Log.Info("CreatePush: duplicate awaiting-submission record suppressed",
				zap.Int("user_id", rec.UserID), zap.Int("project_id", rec.ProjectID), zap.String("branch", rec.Branch))
			return model.PushRecord{}, model.ErrDuplicate
		}
		r.Log.Error("CreatePush: insert failed", zap.Error(err))
		return model.PushRecord{}, err
	}

	r.Log.Info("CreatePush: success", zap.Int64("id", rec.ID), zap.String("branch", rec.Branch))
	return rec, nil
}

// SetSubmission records the created merge request on the push record. The
// single UPDATE keeps the submission atomic: either all submission fields
// land or none do.
func (r *Repositories) SetSubmission(ctx context.Context, id int64, mergeRequestID int, submittedAt time.Time, state, status string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE pushes SET merge_request_id=$2, merge_status_at=$3, merge_state=$4, merge_status=NULLIF($5,'')
		 WHERE id=$1`,
		id, mergeRequestID, submittedAt, state, status)
	if err != nil {
		r.Log.Error("SetSubmission: update failed", zap.Int64("id", id), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	r.Log.Info("SetSubmission: success", zap.Int64("id", id), zap.Int("merge_request_id", mergeRequestID))
	return nil
}

// SetMergeState records a merge request state change on the push record.
func (r *Repositories) SetMergeState(ctx context.Context, id int64, updatedAt time.Time, state, status string, mergedByID int) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE pushes SET merge_status_at=$2, merge_state=$3, merge_status=$4, merged_by_id=$5
		 WHERE id=$1`,
		id, updatedAt, state, status, mergedByID)
	if err != nil {
		r.Log.Error("SetMergeState: update failed", zap.Int64("id", id), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	r.Log.Info("SetMergeState: success", zap.Int64("id", id), zap.String("state", state))
	return nil
}
