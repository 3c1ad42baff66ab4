package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/policy"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RiskAuditReader reads the assessment trail. *service.RiskAuditService implements it.
type RiskAuditReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.RiskAssessment, error)
	Find(ctx context.Context, attemptID uuid.UUID) (*domain.RiskAssessment, error)
}

// RiskConfigView is the effective risk configuration plus the evaluator
// circuits that are currently not closed.
type RiskConfigView struct {
	Levels           []adaptive.Level     `json:"levels"`
	Aggregation      string               `json:"aggregation"`
	FailureMode      adaptive.FailureMode `json:"failure_mode"`
	Weights          map[string]float64   `json:"weights,omitempty"`
	EvaluatorTimeout string               `json:"evaluator_timeout"`
	ProviderTimeout  string               `json:"provider_timeout"`
	AttemptTimeout   string               `json:"attempt_timeout"`
	Evaluators       []string             `json:"evaluators"`
	Providers        []string             `json:"providers"`
	Actions          []policy.ActionRule  `json:"actions"`
	TimeoutAction    policy.Action        `json:"timeout_action"`
	OpenCircuits     map[string]string    `json:"open_circuits,omitempty"`
}

// AdminRiskHandler serves the admin risk endpoints.
type AdminRiskHandler struct {
	audit  RiskAuditReader
	config func() RiskConfigView
}

// NewAdminRiskHandler creates a new AdminRiskHandler. config is called per
// request so live state such as open circuits is current.
func NewAdminRiskHandler(audit RiskAuditReader, config func() RiskConfigView) *AdminRiskHandler {
	return &AdminRiskHandler{audit: audit, config: config}
}

// ListAssessments handles GET /admin/risk/assessments?user_id=&limit=.
func (h *AdminRiskHandler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("user_id must be a UUID"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			RespondError(w, domain.ErrValidation("limit must be a positive integer"))
			return
		}
	}

	list, err := h.audit.ListByUser(r.Context(), userID, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"assessments": list,
	})
}

// GetAssessment handles GET /admin/risk/assessments/{attemptID}.
func (h *AdminRiskHandler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	attemptID, err := uuid.Parse(chi.URLParam(r, "attemptID"))
	if err != nil {
		RespondError(w, domain.ErrValidation("attempt id must be a UUID"))
		return
	}
	a, err := h.audit.Find(r.Context(), attemptID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, a)
}

// Config handles GET /admin/risk/config.
func (h *AdminRiskHandler) Config(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.config())
}
