package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
)

// Repository is the storage contract the service layer depends on: the
// push ledger plus the project configuration reads and mutations.
type Repository interface {
	// Push ledger.
	FindAwaitingSubmission(ctx context.Context, userID, projectID int, branch string) (model.PushRecord, error)
	FindBySubmission(ctx context.Context, userID, projectID int, branch string, mergeRequestID int) (model.PushRecord, error)
	FindMostRecent(ctx context.Context, userID, projectID int, branch string) (model.PushRecord, error)
	FindPendingReviews(ctx context.Context, userID, projectID int, branch string) ([]model.PushRecord, error)
	CreatePush(ctx context.Context, rec model.PushRecord) (model.PushRecord, error)
	SetSubmission(ctx context.Context, id int64, mergeRequestID int, submittedAt time.Time, state, status string) error
	SetMergeState(ctx context.Context, id int64, updatedAt time.Time, state, status string, mergedByID int) error

	// Project configuration.
	GetPolicy(ctx context.Context, projectID int) (model.ProjectPolicy, error)
	CreatePolicy(ctx context.Context, p model.ProjectPolicy) (model.ProjectPolicy, error)
	UpdatePolicy(ctx context.Context, p model.ProjectPolicy) error
	DeletePolicy(ctx context.Context, projectID int) error
	SetPolicyHookID(ctx context.Context, id int64, hookID int) error
	ListRoutingRules(ctx context.Context, projectID int) ([]model.RoutingRule, error)
	AddRoutingRule(ctx context.Context, r model.RoutingRule) (model.RoutingRule, error)
	DeleteRoutingRule(ctx context.Context, projectID int, sourcePattern, targetPattern string) error
	ClearRoutingRules(ctx context.Context, projectID int) error
}

type Repositories struct {
	DB  *sql.DB
	Log *zap.Logger
}

func NewRepositories(db *sql.DB, logger *zap.Logger) *Repositories {
	return &Repositories{DB: db, Log: logger}
}

func (r *Repositories) BeginTx(ctx context.Context) (*sql.Tx, error) {
	r.Log.Debug("BeginTx called")
	return r.DB.BeginTx(ctx, &sql.TxOptions{})
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
