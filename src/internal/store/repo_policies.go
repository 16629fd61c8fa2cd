package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
)

const policyColumns = `id, project_id, created_at, enabled, hook_id, reviewer_mode,
	include_default_reviewers, include_list, exclude_list`

// GetPolicy loads the review configuration for a project.
func (r *Repositories) GetPolicy(ctx context.Context, projectID int) (model.ProjectPolicy, error) {
	var p model.ProjectPolicy
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM project_config WHERE project_id=$1`, projectID).
		Scan(&p.ID, &p.ProjectID, &p.CreatedAt, &p.Enabled, &p.HookID, &p.ReviewerMode,
			&p.IncludeDefaultReviewers, pq.Array(&p.IncludeList), pq.Array(&p.ExcludeList))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.Log.Debug("GetPolicy: not found", zap.Int("project_id", projectID))
			return model.ProjectPolicy{}, model.ErrNotFound
		}
		r.Log.Error("GetPolicy: query failed", zap.Int("project_id", projectID), zap.Error(err))
		return model.ProjectPolicy{}, err
	}
	return p, nil
}

func (r *Repositories) CreatePolicy(ctx context.Context, p model.ProjectPolicy) (model.ProjectPolicy, error) {
	r.Log.Debug("CreatePolicy: start", zap.Int("project_id", p.ProjectID))
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO project_config
		 (project_id, created_at, enabled, hook_id, reviewer_mode, include_default_reviewers, include_list, exclude_list)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		p.ProjectID, p.CreatedAt, p.Enabled, p.HookID, p.ReviewerMode,
		p.IncludeDefaultReviewers, pq.Array(p.IncludeList), pq.Array(p.ExcludeList)).
		Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ProjectPolicy{}, model.ErrDuplicate
		}
		r.Log.Error("CreatePolicy: insert failed", zap.Int("project_id", p.ProjectID), zap.Error(err))
		return model.ProjectPolicy{}, err
	}
	r.Log.Info("CreatePolicy: success", zap.Int("project_id", p.ProjectID), zap.Int64("id", p.ID))
	return p, nil
}

func (r *Repositories) UpdatePolicy(ctx context.Context, p model.ProjectPolicy) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE project_config
		 SET enabled=$2, reviewer_mode=$3, include_default_reviewers=$4, include_list=$5, exclude_list=$6
		 WHERE project_id=$1`,
		p.ProjectID, p.Enabled, p.ReviewerMode, p.IncludeDefaultReviewers,
		pq.Array(p.IncludeList), pq.Array(p.ExcludeList))
	if err != nil {
		r.Log.Error("UpdatePolicy: update failed", zap.Int("project_id", p.ProjectID), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	r.Log.Info("UpdatePolicy: success", zap.Int("project_id", p.ProjectID))
	return nil
}

// DeletePolicy removes the project configuration. Routing rules go with it
// via ON DELETE CASCADE.
func (r *Repositories) DeletePolicy(ctx context.Context, projectID int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM project_config WHERE project_id=$1`, projectID)
	if err != nil {
		r.Log.Error("DeletePolicy: delete failed", zap.Int("project_id", projectID), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	r.Log.Info("DeletePolicy: success", zap.Int("project_id", projectID))
	return nil
}

func (r *Repositories) SetPolicyHookID(ctx context.Context, id int64, hookID int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE project_config SET hook_id=$2 WHERE id=$1`, id, hookID)
	if err != nil {
		r.Log.Error("SetPolicyHookID: update failed", zap.Int64("id", id), zap.Error(err))
	}
	return err
}

// ListRoutingRules returns the project's routing rules in insertion order.
func (r *Repositories) ListRoutingRules(ctx context.Context, projectID int) ([]model.RoutingRule, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, project_id, source_pattern, target_pattern FROM merge_specs
		 WHERE project_id=$1 ORDER BY id`, projectID)
	if err != nil {
		r.Log.Error("ListRoutingRules: query failed", zap.Int("project_id", projectID), zap.Error(err))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.Log.Error("ListRoutingRules: close rows failed", zap.Error(err))
		}
	}()

	var out []model.RoutingRule
	for rows.Next() {
		var rule model.RoutingRule
		if err := rows.Scan(&rule.ID, &rule.ProjectID, &rule.SourcePattern, &rule.TargetPattern); err != nil {
			r.Log.Error("ListRoutingRules: scan failed", zap.Error(err))
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repositories) AddRoutingRule(ctx context.Context, rule model.RoutingRule) (model.RoutingRule, error) {
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO merge_specs (project_id, source_pattern, target_pattern)
		 VALUES ($1,$2,$3) RETURNING id`,
		rule.ProjectID, rule.SourcePattern, rule.TargetPattern).
		Scan(&rule.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return model.RoutingRule{}, model.ErrDuplicate
		}
		r.Log.Error("AddRoutingRule: insert failed", zap.Int("project_id", rule.ProjectID), zap.Error(err))
		return model.RoutingRule{}, err
	}
	r.Log.Info("AddRoutingRule: success",
		zap.Int("project_id", rule.ProjectID), zap.String("source", rule.SourcePattern), zap.String("target", rule.TargetPattern))
	return rule, nil
}

func (r *Repositories) DeleteRoutingRule(ctx context.Context, projectID int, sourcePattern, targetPattern string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM merge_specs WHERE project_id=$1 AND source_pattern=$2 AND target_pattern=$3`,
		projectID, sourcePattern, targetPattern)
	if err != nil {
		r.Log.Error("DeleteRoutingRule: delete failed", zap.Int("project_id", projectID), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *Repositories) ClearRoutingRules(ctx context.Context, projectID int) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM merge_specs WHERE project_id=$1`, projectID)
	if err != nil {
		r.Log.Error("ClearRoutingRules: delete failed", zap.Int("project_id", projectID), zap.Error(err))
	}
	return err
}
