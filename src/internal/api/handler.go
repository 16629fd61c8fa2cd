package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"

	"github.com/simplereview/review-service/src/internal/api/apiErrors"
	"github.com/simplereview/review-service/src/internal/model"
	"github.com/simplereview/review-service/src/internal/queue"
	"github.com/simplereview/review-service/src/internal/service"
)

//go:embed static/review.html
var staticFS embed.FS

// AppResponse is the envelope of every review-surface response. Status is
// the operation outcome; StatusText carries the message shown on the
// submission form.
type AppResponse struct {
	Success    bool           `json:"success"`
	Status     service.Status `json:"status"`
	StatusText string         `json:"status_text,omitempty"`
	Data       any            `json:"data,omitempty"`
}

type Handler struct {
	svc  *service.Service
	pool *queue.Pool
	log  *zap.Logger
}

func NewHandler(svc *service.Service, pool *queue.Pool, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, pool: pool, log: logger}
}

func RegisterRoutes(r *chi.Mux, h *Handler, webhookAuth, rateLimit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(rateLimit, webhookAuth)
		r.Post("/webhook", h.webhook)
	})

	r.Get("/review/{projectID}/{branch}/{userID}/{signature}", h.reviewPage)
	r.Get("/review/load/{projectID}/{branch}/{userID}/{signature}", withTimeout(h.loadReview))
	r.Post("/review/submit", withTimeout(h.submitReview))

	r.Route("/admin/projects/{group}/{name}", func(r chi.Router) {
		r.Get("/", withTimeout(h.getProjectConfig))
		r.Post("/", withTimeout(h.addProjectConfig))
		r.Put("/", withTimeout(h.updateProjectConfig))
		r.Delete("/", withTimeout(h.deleteProjectConfig))

		r.Get("/rules", withTimeout(h.listRules))
		r.Post("/rules", withTimeout(h.addRule))
		r.Delete("/rules", withTimeout(h.deleteRule))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

func withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// webhookEvent covers the union of the push and merge request payload
// fields the service consumes.
type webhookEvent struct {
	ObjectKind string `json:"object_kind"`

	// Push fields.
	UserID    int    `json:"user_id"`
	UserEmail string `json:"user_email"`
	ProjectID int    `json:"project_id"`
	Ref       string `json:"ref"`
	Before    string `json:"before"`
	After     string `json:"after"`

	User struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
	} `json:"user"`

	ObjectAttributes struct {
		ID              int    `json:"id"`
		IID             int    `json:"iid"`
		State           string `json:"state"`
		MergeStatus     string `json:"merge_status"`
		SourceBranch    string `json:"source_branch"`
		AuthorID        int    `json:"author_id"`
		TargetProjectID int    `json:"target_project_id"`
		UpdatedAt       string `json:"updated_at"`
	} `json:"object_attributes"`
}

// webhook ingests a GitLab event. The event is acknowledged as soon as it
// is queued; 503 on a full queue makes GitLab redeliver later.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	var ev webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "invalid event body")
		return
	}

	switch ev.ObjectKind {
	case "push":
		push := model.PushEvent{
			UserID:    ev.UserID,
			UserEmail: ev.UserEmail,
			ProjectID: ev.ProjectID,
			Ref:       ev.Ref,
			Before:    ev.Before,
			After:     ev.After,
		}
		key := queue.Key{UserID: push.UserID, ProjectID: push.ProjectID, Branch: push.Branch()}
		err := h.pool.Enqueue(key, func(ctx context.Context) {
			if err := h.svc.HandlePushEvent(ctx, push); err != nil {
				h.log.Error("push event processing failed", zap.Error(err))
			}
		})
		if err != nil {
			h.log.Warn("could not queue push event", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, apiErrors.InternalError, "event queue is full")
			return
		}

	case "merge_request":
		attrs := ev.ObjectAttributes
		merge := model.MergeRequestEvent{
			SourceBranch:       attrs.SourceBranch,
			AuthorID:           attrs.AuthorID,
			TargetProjectID:    attrs.TargetProjectID,
			IID:                attrs.IID,
			MergeRequestID:     attrs.ID,
			State:              attrs.State,
			MergeStatus:        attrs.MergeStatus,
			UpdatedAt:          parseEventTime(attrs.UpdatedAt),
			ActingUserID:       ev.User.ID,
			ActingUserUsername: ev.User.Username,
		}
		key := queue.Key{UserID: merge.AuthorID, ProjectID: merge.TargetProjectID, Branch: merge.SourceBranch}
		err := h.pool.Enqueue(key, func(ctx context.Context) {
			if err := h.svc.HandleMergeEvent(ctx, merge); err != nil {
				h.log.Error("merge event processing failed", zap.Error(err))
			}
		})
		if err != nil {
			h.log.Warn("could not queue merge event", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, apiErrors.InternalError, "event queue is full")
			return
		}

	default:
		h.log.Info("ignoring webhook event", zap.String("object_kind", ev.ObjectKind))
	}

	writeJSON(w, http.StatusAccepted, AppResponse{Success: true, Status: service.StatusOK})
}

// parseEventTime handles the two timestamp shapes GitLab webhooks emit.
func parseEventTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05 MST", "2006-01-02 15:04:05 -0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}

type linkParams struct {
	projectID int
	branch    string
	userID    int
	signature string
}

func (h *Handler) linkParams(r *http.Request) (linkParams, bool) {
	projectID, err := strconv.Atoi(chi.URLParam(r, "projectID"))
	if err != nil {
		return linkParams{}, false
	}
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		return linkParams{}, false
	}
	branch, err := url.PathUnescape(chi.URLParam(r, "branch"))
	if err != nil || branch == "" {
		return linkParams{}, false
	}
	return linkParams{
		projectID: projectID,
		branch:    branch,
		userID:    userID,
		signature: chi.URLParam(r, "signature"),
	}, true
}

// reviewPage serves the submission form. The signature is checked before
// anything else so a tampered link never reaches the form.
func (h *Handler) reviewPage(w http.ResponseWriter, r *http.Request) {
	p, valid := h.linkParams(r)
	if !valid || !h.svc.VerifyReviewLink(p.projectID, p.branch, p.userID, p.signature) {
		http.Error(w, "invalid review link", http.StatusForbidden)
		return
	}
	page, err := staticFS.ReadFile("static/review.html")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (h *Handler) loadReview(w http.ResponseWriter, r *http.Request) {
	p, valid := h.linkParams(r)
	if !valid || !h.svc.VerifyReviewLink(p.projectID, p.branch, p.userID, p.signature) {
		writeError(w, http.StatusForbidden, apiErrors.InternalError, "invalid review link")
		return
	}

	outcome, info, err := h.svc.LoadReview(r.Context(), p.projectID, p.branch, p.userID)
	if err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AppResponse{
		Success:    outcome.Status != service.StatusFailed,
		Status:     outcome.Status,
		StatusText: outcome.Message,
		Data:       info,
	})
}

func (h *Handler) submitReview(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "invalid form body")
		return
	}
	userID, err1 := strconv.Atoi(r.PostFormValue("user_id"))
	sourceProjectID, err2 := strconv.Atoi(r.PostFormValue("source_project_id"))
	targetProjectID, err3 := strconv.Atoi(r.PostFormValue("target_project_id"))
	sourceBranch := r.PostFormValue("source_branch")
	targetBranch := r.PostFormValue("target_branch")
	signature := r.PostFormValue("signature")
	if err1 != nil || err2 != nil || err3 != nil || sourceBranch == "" || targetBranch == "" {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError,
			"user_id, source_project_id, target_project_id, source_branch and target_branch required")
		return
	}
	if !h.svc.VerifyReviewLink(sourceProjectID, sourceBranch, userID, signature) {
		writeError(w, http.StatusForbidden, apiErrors.InternalError, "invalid review link")
		return
	}

	title := r.PostFormValue("title")
	if title == "" {
		title = "Code review for branch " + sourceBranch
	}

	outcome, err := h.svc.Submit(r.Context(), service.SubmitRequest{
		UserID:          userID,
		SourceProjectID: sourceProjectID,
		SourceBranch:    sourceBranch,
		TargetProjectID: targetProjectID,
		TargetBranch:    targetBranch,
		Title:           title,
		Description:     r.PostFormValue("description"),
	})
	if err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AppResponse{
		Success:    outcome.Status == service.StatusOK,
		Status:     outcome.Status,
		StatusText: outcome.Message,
	})
}

type policyRequestBody struct {
	Enabled                 *bool    `json:"enabled"`
	ReviewerMode            *string  `json:"reviewer_mode"`
	IncludeList             []string `json:"include_list"`
	ExcludeList             []string `json:"exclude_list"`
	IncludeDefaultReviewers *bool    `json:"include_default_reviewers"`
	GitflowRules            bool     `json:"gitflow_rules"`
}

func (b policyRequestBody) toRequest() service.PolicyRequest {
	return service.PolicyRequest{
		Enabled:                 b.Enabled,
		ReviewerMode:            b.ReviewerMode,
		IncludeList:             b.IncludeList,
		ExcludeList:             b.ExcludeList,
		IncludeDefaultReviewers: b.IncludeDefaultReviewers,
		GitflowRules:            b.GitflowRules,
	}
}

func (h *Handler) getProjectConfig(w http.ResponseWriter, r *http.Request) {
	policy, err := h.svc.GetProjectConfig(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "name"))
	if err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": policy})
}

func (h *Handler) addProjectConfig(w http.ResponseWriter, r *http.Request) {
	var body policyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "invalid body")
		return
	}
	policy, err := h.svc.AddProjectConfig(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "name"), body.toRequest())
	if err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": policy})
}

func (h *Handler) updateProjectConfig(w http.ResponseWriter, r *http.Request) {
	var body policyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "invalid body")
		return
	}
	policy, err := h.svc.UpdateProjectConfig(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "name"), body.toRequest())
	if err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": policy})
}

func (h *Handler) deleteProjectConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProjectConfig(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "name")); err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.ListRoutingRules(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "name"))
	if err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) addRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourcePattern string `json:"source_pattern"`
		TargetPattern string `json:"target_pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SourcePattern == "" || body.TargetPattern == "" {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "source_pattern and target_pattern required")
		return
	}
	rule, err := h.svc.AddRoutingRule(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "name"),
		body.SourcePattern, body.TargetPattern)
	if err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	sourcePattern := r.URL.Query().Get("source_pattern")
	targetPattern := r.URL.Query().Get("target_pattern")
	if sourcePattern == "" || targetPattern == "" {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "source_pattern and target_pattern required")
		return
	}
	if err := h.svc.DeleteRoutingRule(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "name"),
		sourcePattern, targetPattern); err != nil {
		handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, errCode apiErrors.ErrorCode, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"code": errCode, "message": message},
	})
}

func handleSvcError(w http.ResponseWriter, err error) {
	var e apiErrors.APIError
	switch {
	case errors.As(err, &e):
		switch e.Code {
		case apiErrors.ProjectExists:
			writeError(w, http.StatusConflict, e.Code, e.Message)
		case apiErrors.RuleExists:
			writeError(w, http.StatusConflict, e.Code, e.Message)
		case apiErrors.InvalidMode:
			writeError(w, http.StatusBadRequest, e.Code, e.Message)
		case apiErrors.RemoteError:
			writeError(w, http.StatusBadGateway, e.Code, e.Message)
		case apiErrors.NotFound:
			writeError(w, http.StatusNotFound, e.Code, e.Message)
		default:
			writeError(w, http.StatusInternalServerError, apiErrors.InternalError, e.Message)
		}
	default:
		writeError(w, http.StatusInternalServerError, apiErrors.InternalError, err.Error())
	}
}
