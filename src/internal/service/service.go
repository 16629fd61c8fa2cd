package service

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/config"
	"github.com/simplereview/review-service/src/internal/mail"
	"github.com/simplereview/review-service/src/internal/routing"
	"github.com/simplereview/review-service/src/internal/scm"
	"github.com/simplereview/review-service/src/internal/signer"
	"github.com/simplereview/review-service/src/internal/store"
)

// Status classifies the outcome of a request/response operation, mirrored
// into the response envelope by the API layer.
type Status string

const (
	StatusOK       Status = "OK"
	StatusNoAction Status = "NO_ACTION"
	StatusFailed   Status = "FAILED"
)

// Outcome is a distinguished result with a human-readable message. The
// submission form shows the message to the developer, so each no-action
// cause keeps its own text.
type Outcome struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

func ok(message string) Outcome       { return Outcome{Status: StatusOK, Message: message} }
func noAction(message string) Outcome { return Outcome{Status: StatusNoAction, Message: message} }
func failed(message string) Outcome   { return Outcome{Status: StatusFailed, Message: message} }

// Service implements the webhook event processing, the review submission
// flow and the admin configuration surface.
type Service struct {
	cfg    config.Config
	repo   store.Repository
	scm    scm.Client
	sender mail.Sender
	tpls   *mail.Templates
	signer *signer.Signer
	router *routing.Matcher
	log    *zap.Logger
	now    func() time.Time
}

func NewService(cfg config.Config, repo store.Repository, scmClient scm.Client,
	sender mail.Sender, tpls *mail.Templates, sign *signer.Signer,
	router *routing.Matcher, logger *zap.Logger) *Service {

	return &Service{
		cfg:    cfg,
		repo:   repo,
		scm:    scmClient,
		sender: sender,
		tpls:   tpls,
		signer: sign,
		router: router,
		log:    logger,
		now:    time.Now,
	}
}

// reviewLink builds the signed submission-form URL embedded in the code
// review notification.
func (s *Service) reviewLink(projectID int, branch string, userID int) string {
	token := s.signer.Sign(projectID, branch, userID)
	return joinURL(s.cfg.Review.ServiceURL, "review",
		strconv.Itoa(projectID), url.PathEscape(branch), strconv.Itoa(userID), token)
}

// mergeRequestLink builds the GitLab web URL of a merge request.
func (s *Service) mergeRequestLink(group, projectName string, mergeRequestIID int) string {
	return joinURL(s.cfg.GitLab.WebURL, group, projectName, "merge_requests", strconv.Itoa(mergeRequestIID))
}

func joinURL(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "/")
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(part)
	}
	return b.String()
}

// isDeletionMarker reports whether an "after" commit SHA is the all-zero
// marker GitLab sends when a branch is deleted.
func isDeletionMarker(sha string) bool {
	if sha == "" {
		return false
	}
	for _, c := range sha {
		if c != '0' {
			return false
		}
	}
	return true
}
