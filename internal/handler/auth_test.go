package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/policy"
	"github.com/attaboy/adaptiveauth/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator struct {
	lastLogin service.LoginInput
	action    policy.Action
	err       error
}

func (f *fakeAuthenticator) Register(_ context.Context, in service.RegisterInput) (*service.RegisterResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.RegisterResult{UserID: uuid.New(), Email: in.Email, Roles: []string{"user"}}, nil
}

func (f *fakeAuthenticator) Login(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	f.lastLogin = in
	if f.err != nil {
		return nil, f.err
	}
	res := &service.LoginResult{Action: f.action, UserID: uuid.New(), Email: in.Email, AttemptID: uuid.New(), RiskLevel: "LOW"}
	if f.action == policy.ActionAllow {
		res.Token = "signed-token"
	}
	return res, nil
}

func postJSON(h http.HandlerFunc, body string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("allow returns 200 with token", func(t *testing.T) {
		svc := &fakeAuthenticator{action: policy.ActionAllow}
		w := postJSON(NewAuthHandler(svc).Login, `{"email":"a@example.com","password":"password123"}`, map[string]string{
			"User-Agent":      "Mozilla/5.0",
			"X-Device-ID":     " device-0001 ",
			"X-Forwarded-For": "198.51.100.4, 10.0.0.1",
		})
		assert.Equal(t, http.StatusOK, w.Code)

		var body service.LoginResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "signed-token", body.Token)
		assert.Equal(t, policy.ActionAllow, body.Action)

		assert.Equal(t, "198.51.100.4", svc.lastLogin.IPAddress)
		assert.Equal(t, "Mozilla/5.0", svc.lastLogin.UserAgent)
		assert.Equal(t, "device-0001", svc.lastLogin.DeviceID)
	})

	t.Run("challenge returns 202 without token", func(t *testing.T) {
		w := postJSON(NewAuthHandler(&fakeAuthenticator{action: policy.ActionChallenge}).Login,
			`{"email":"a@example.com","password":"password123"}`, nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.NotContains(t, w.Body.String(), "token")
	})

	t.Run("deny returns 403", func(t *testing.T) {
		w := postJSON(NewAuthHandler(&fakeAuthenticator{err: domain.ErrLoginDenied("HIGH")}).Login,
			`{"email":"a@example.com","password":"password123"}`, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "LOGIN_DENIED")
	})

	t.Run("client cannot set attempt fields in body", func(t *testing.T) {
		svc := &fakeAuthenticator{action: policy.ActionAllow}
		postJSON(NewAuthHandler(svc).Login, `{"email":"a@example.com","password":"x","IPAddress":"1.1.1.1"}`, nil)
		assert.NotEqual(t, "1.1.1.1", svc.lastLogin.IPAddress)
	})

	t.Run("bad body returns 400", func(t *testing.T) {
		w := postJSON(NewAuthHandler(&fakeAuthenticator{}).Login, `{`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_Register(t *testing.T) {
	w := postJSON(NewAuthHandler(&fakeAuthenticator{}).Register, `{"email":"a@example.com","password":"password123"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(NewAuthHandler(&fakeAuthenticator{err: domain.ErrConflict("email already registered")}).Register,
		`{"email":"a@example.com","password":"password123"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

type fakeAudit struct {
	rows []domain.RiskAssessment
}

func (f *fakeAudit) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]domain.RiskAssessment, error) {
	var out []domain.RiskAssessment
	for _, r := range f.rows {
		if r.UserID != nil && *r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAudit) Find(_ context.Context, id uuid.UUID) (*domain.RiskAssessment, error) {
	for i := range f.rows {
		if f.rows[i].AttemptID == id {
			return &f.rows[i], nil
		}
	}
	return nil, domain.ErrNotFound("risk assessment", id.String())
}

func newRiskRouter(audit RiskAuditReader) http.Handler {
	h := NewAdminRiskHandler(audit, func() RiskConfigView {
		return RiskConfigView{
			Levels:        adaptive.DefaultLevelTable().Levels(),
			Aggregation:   "sum",
			FailureMode:   adaptive.FailOpen,
			Evaluators:    []string{"user_agent"},
			TimeoutAction: policy.ActionChallenge,
		}
	})
	r := chi.NewRouter()
	r.Get("/admin/risk/assessments", h.ListAssessments)
	r.Get("/admin/risk/assessments/{attemptID}", h.GetAssessment)
	r.Get("/admin/risk/config", h.Config)
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestAdminRiskHandler(t *testing.T) {
	userID := uuid.New()
	attemptID := uuid.New()
	audit := &fakeAudit{rows: []domain.RiskAssessment{{
		AttemptID: attemptID, UserID: &userID, Level: "MEDIUM", Score: 0.8, EvaluatedAt: time.Now(),
	}}}
	router := newRiskRouter(audit)

	t.Run("list by user", func(t *testing.T) {
		w := get(router, "/admin/risk/assessments?user_id="+userID.String())
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Assessments []domain.RiskAssessment `json:"assessments"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		require.Len(t, body.Assessments, 1)
		assert.Equal(t, "MEDIUM", body.Assessments[0].Level)
	})

	t.Run("list requires user_id", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(router, "/admin/risk/assessments").Code)
		assert.Equal(t, http.StatusBadRequest, get(router, "/admin/risk/assessments?user_id="+userID.String()+"&limit=-1").Code)
	})

	t.Run("get one", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(router, "/admin/risk/assessments/"+attemptID.String()).Code)
		assert.Equal(t, http.StatusNotFound, get(router, "/admin/risk/assessments/"+uuid.NewString()).Code)
		assert.Equal(t, http.StatusBadRequest, get(router, "/admin/risk/assessments/not-a-uuid").Code)
	})

	t.Run("config", func(t *testing.T) {
		w := get(router, "/admin/risk/config")
		require.Equal(t, http.StatusOK, w.Code)
		var body RiskConfigView
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Len(t, body.Levels, 3)
		assert.Equal(t, "sum", body.Aggregation)
		assert.Equal(t, []string{"user_agent"}, body.Evaluators)
	})
}
