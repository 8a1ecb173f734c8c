package access

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository/memory"
	"github.com/arogyalock/consent-api/internal/service/access"
	"github.com/arogyalock/consent-api/internal/service/audit"
)

type fixture struct {
	engine *gin.Engine
	actor  *model.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{}
	svc := access.NewService(memory.NewConsentStore(), nil, audit.NewService(memory.NewAuditStore(), nil), nil)

	f.engine = gin.New()
	group := f.engine.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		c.Set("actor", f.actor)
	})
	NewHandler(svc).RegisterRoutes(group)
	return f
}

func (f *fixture) evaluate(t *testing.T, actor *model.Actor, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	f.actor = actor

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/evaluate", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

// A negative verdict is still HTTP 200: the outcome rides in the body.
func TestEvaluateReturnsDecisionWith200(t *testing.T) {
	f := newFixture(t)
	clinician := &model.Actor{ID: uuid.New(), Role: model.RoleClinician}

	w := f.evaluate(t, clinician, map[string]interface{}{
		"subject_id": uuid.New(),
		"scope":      []string{model.ScopeLabs},
		"mode":       "NORMAL",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data model.AccessDecision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.False(t, envelope.Data.Allowed)
	assert.Equal(t, model.OutcomeRequiresConsent, envelope.Data.Outcome)
	assert.Equal(t, model.ReasonNeverRequested, envelope.Data.Reason)
}

func TestEvaluateSelfAccess(t *testing.T) {
	f := newFixture(t)
	patient := &model.Actor{ID: uuid.New(), Role: model.RolePatient}

	w := f.evaluate(t, patient, map[string]interface{}{
		"subject_id": patient.ID,
		"scope":      []string{model.ScopeLabs, model.ScopeNotes},
		"mode":       "NORMAL",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data model.AccessDecision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.Allowed)
	assert.Equal(t, model.ReasonSelfAccess, envelope.Data.Reason)
}

func TestEvaluateRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	clinician := &model.Actor{ID: uuid.New(), Role: model.RoleClinician}

	// unknown mode fails binding
	w := f.evaluate(t, clinician, map[string]interface{}{
		"subject_id": uuid.New(),
		"scope":      []string{model.ScopeLabs},
		"mode":       "PANIC",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// unknown scope category fails validation
	w = f.evaluate(t, clinician, map[string]interface{}{
		"subject_id": uuid.New(),
		"scope":      []string{"genome"},
		"mode":       "NORMAL",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
