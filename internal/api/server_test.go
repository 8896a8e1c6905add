package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
	"github.com/sepsis-sentinel/dashboard/internal/logging"
	"github.com/sepsis-sentinel/dashboard/internal/middleware"
	"github.com/sepsis-sentinel/dashboard/internal/service"
	"github.com/sepsis-sentinel/dashboard/internal/session"
	"github.com/sepsis-sentinel/dashboard/pkg/external"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubConfig struct {
	config *domain.Config
}

func (s *stubConfig) GetConfig() *domain.Config { return s.config }
func (s *stubConfig) GetServerConfig() *domain.ServerConfig { return &s.config.Server }
func (s *stubConfig) GetPredictorConfig() *domain.PredictorConfig { return &s.config.Predictor }
func (s *stubConfig) GetSessionConfig() *domain.SessionConfig { return &s.config.Session }
func (s *stubConfig) Validate() error { return nil }
func (s *stubConfig) IsProduction() bool { return s.config.Environment == "production" }
func (s *stubConfig) IsDevelopment() bool { return s.config.Environment != "production" }

// fakeUpstream serves /predict with the given probabilities in turn and
// counts the predict calls it receives.
type fakeUpstream struct {
	probabilities []float64
	labels        []string
	status        int
	delay         time.Duration
	calls         atomic.Int32
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/health" {
		fmt.Fprint(w, `{"status":"ok","model_loaded":true}`)
		return
	}

	n := int(f.calls.Add(1)) - 1
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		fmt.Fprint(w, `{"detail":"upstream rejected the request"}`)
		return
	}

	p := f.probabilities[n%len(f.probabilities)]
	label := ""
	if len(f.labels) > 0 {
		label = f.labels[n%len(f.labels)]
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"prediction": p, "risk_level": label})
}

type testEnv struct {
	server   *Server
	upstream *fakeUpstream
}

func newTestEnv(t *testing.T, upstream *fakeUpstream, sessionCfg domain.SessionConfig) *testEnv {
	t.Helper()

	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	if sessionCfg.CookieName == "" {
		sessionCfg.CookieName = "sepsis_session"
	}
	if sessionCfg.TTL == 0 {
		sessionCfg.TTL = time.Hour
	}
	if sessionCfg.PredictBurst == 0 {
		sessionCfg.PredictBurst = 10
	}

	cfg := &domain.Config{
		Predictor: domain.PredictorConfig{
			BaseURL:        ts.URL,
			PredictTimeout: 100 * time.Millisecond,
			HealthTimeout:  time.Second,
		},
		Session: sessionCfg,
		Logging: domain.LoggingConfig{Level: "error"},
	}

	logger := logging.NewNopLogger()
	predictor := external.NewPredictorClient(cfg.Predictor, logger)
	sessions := session.NewManager(cfg.Session, "test:", nil, logger)

	server, err := NewServer(&stubConfig{config: cfg}, predictor, sessions, service.NewHistoryAggregator(logger), logger)
	require.NoError(t, err)

	return &testEnv{server: server, upstream: upstream}
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if sessionID != "" {
		req.Header.Set(middleware.SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postObservation(t *testing.T, sessionID string, obs map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(obs)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, "/api/v1/predictions", sessionID, body, "application/json")
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/v1/history", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(middleware.SessionHeader)
	require.NotEmpty(t, id)
	return id
}

func (e *testEnv) historyCount(t *testing.T, sessionID string) int {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/v1/history", sessionID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var history HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, sessionID, history.SessionID)
	return history.Count
}

func validObservation() map[string]interface{} {
	return map[string]interface{}{
		"hr": 80, "o2sat": 98, "temp": 37.0, "sbp": 120, "dbp": 80, "map": 999.0,
		"resp": 18, "age": 45, "gender": 0, "unit1": 0, "unit2": 0,
		"hosp_adm_time": 24, "iculos": 48,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.DashboardError {
	t.Helper()
	var body struct {
		Error domain.DashboardError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestCreatePrediction_Success(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.45}, labels: []string{"Moderado"}}, domain.SessionConfig{})
	sid := env.newSession(t)

	rec := env.postObservation(t, sid, validObservation())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 93.3, resp.Record.Observation.MAP)
	assert.Equal(t, 0.45, resp.Record.Result.Prediction)
	assert.Equal(t, domain.RiskModerate, resp.Tier.Tier)
	assert.Equal(t, "yellow", resp.Tier.Color)
	assert.True(t, resp.Reconciliation.Agree)

	assert.Equal(t, 1, env.historyCount(t, sid))

	rec = env.do(t, http.MethodGet, "/api/v1/predictions/last", sid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var last PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	assert.Equal(t, resp.Record.Timestamp.UnixNano(), last.Record.Timestamp.UnixNano())
}

func TestCreatePrediction_TimeoutLeavesHistoryUnchanged(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.2}, delay: time.Second}, domain.SessionConfig{})
	sid := env.newSession(t)

	rec := env.postObservation(t, sid, validObservation())
	require.Equal(t, http.StatusBadGateway, rec.Code)

	derr := decodeError(t, rec)
	assert.Equal(t, domain.ErrPredictionFailed, derr.Code)
	assert.Contains(t, derr.Message, "timed out")
	assert.NotEmpty(t, derr.RequestID)

	assert.Equal(t, 0, env.historyCount(t, sid))
}

func TestCreatePrediction_UpstreamRejects(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{status: http.StatusUnprocessableEntity}, domain.SessionConfig{})
	sid := env.newSession(t)

	rec := env.postObservation(t, sid, validObservation())
	require.Equal(t, http.StatusBadGateway, rec.Code)

	derr := decodeError(t, rec)
	assert.Contains(t, derr.Message, "422")
	assert.Contains(t, derr.Message, "upstream rejected the request")
	assert.Equal(t, 0, env.historyCount(t, sid))
}

func TestCreatePrediction_InvalidInputNeverReachesUpstream(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value interface{}
	}{
		{"heart rate too low", "hr", 20},
		{"temperature too high", "temp", 43.5},
		{"gender not binary", "gender", 2},
		{"negative icu stay", "iculos", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeUpstream{probabilities: []float64{0.5}}
			env := newTestEnv(t, upstream, domain.SessionConfig{})
			sid := env.newSession(t)

			obs := validObservation()
			obs[tt.field] = tt.value

			rec := env.postObservation(t, sid, obs)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			derr := decodeError(t, rec)
			assert.Equal(t, domain.ErrInvalidInput, derr.Code)
			assert.Contains(t, derr.Details, "'"+tt.field+"'")
			assert.Equal(t, int32(0), upstream.calls.Load())
			assert.Equal(t, 0, env.historyCount(t, sid))
		})
	}
}

func TestCreatePrediction_RateLimited(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.1}}, domain.SessionConfig{PredictRate: 0.001, PredictBurst: 1})
	sid := env.newSession(t)

	require.Equal(t, http.StatusCreated, env.postObservation(t, sid, validObservation()).Code)

	rec := env.postObservation(t, sid, validObservation())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, domain.ErrRateLimit, decodeError(t, rec).Code)

	assert.Equal(t, 1, env.historyCount(t, sid))
	assert.Equal(t, int32(1), env.upstream.calls.Load())
}

func TestHistorySummary_OnePerTier(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{
		probabilities: []float64{0.1, 0.45, 0.7},
		labels:        []string{"Baixo", "Moderado", "Alto"},
	}, domain.SessionConfig{})
	sid := env.newSession(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, env.postObservation(t, sid, validObservation()).Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/history/summary", sid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary domain.HistorySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.LowCount)
	assert.Equal(t, 1, summary.ModerateCount)
	assert.Equal(t, 1, summary.HighCount)
	assert.Empty(t, summary.Warnings)
	require.Len(t, summary.Series, 3)
	assert.Equal(t, 0.1, summary.Series[0].Probability)
	assert.Equal(t, 0.7, summary.Series[2].Probability)
	assert.Equal(t, domain.AxisRange{Min: 0, Max: 1}, summary.YRange)
}

func TestLastPrediction_EmptySession(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.1}}, domain.SessionConfig{})

	rec := env.do(t, http.MethodGet, "/api/v1/predictions/last", "", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ErrRecordNotFound, decodeError(t, rec).Code)
}

func TestSessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.2}}, domain.SessionConfig{})
	a := env.newSession(t)
	b := env.newSession(t)
	require.NotEqual(t, a, b)

	require.Equal(t, http.StatusCreated, env.postObservation(t, a, validObservation()).Code)
	require.Equal(t, http.StatusCreated, env.postObservation(t, a, validObservation()).Code)

	assert.Equal(t, 2, env.historyCount(t, a))
	assert.Equal(t, 0, env.historyCount(t, b))
}

func formBody(obs map[string]interface{}) []byte {
	values := url.Values{}
	for k, v := range obs {
		if k == "map" {
			continue
		}
		values.Set(k, fmt.Sprint(v))
	}
	return []byte(values.Encode())
}

func TestPredictPage_FormFlow(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.45}, labels: []string{"Moderado"}}, domain.SessionConfig{})
	sid := env.newSession(t)

	rec := env.do(t, http.MethodGet, "/predict", sid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="hr"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodPost, "/predict", sid, formBody(validObservation()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/predict", rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/predict", sid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ATTENTION - Moderate Risk")
	assert.Contains(t, rec.Body.String(), "45.0%")

	rec = env.do(t, http.MethodPost, "/predict/back", sid, nil, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = env.do(t, http.MethodGet, "/predict", sid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="hr"`)
	assert.Equal(t, 1, env.historyCount(t, sid))
}

func TestPredictPage_FailureShownInline(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{status: http.StatusInternalServerError}, domain.SessionConfig{})
	sid := env.newSession(t)

	obs := validObservation()
	obs["hr"] = 130
	rec := env.do(t, http.MethodPost, "/predict", sid, formBody(obs), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Prediction failed")
	assert.Contains(t, body, "500")
	assert.Contains(t, body, `value="130"`)
	assert.Equal(t, 0, env.historyCount(t, sid))
}

func TestPredictPage_InvalidFormShownInline(t *testing.T) {
	upstream := &fakeUpstream{probabilities: []float64{0.5}}
	env := newTestEnv(t, upstream, domain.SessionConfig{})
	sid := env.newSession(t)

	obs := validObservation()
	obs["o2sat"] = 140
	rec := env.do(t, http.MethodPost, "/predict", sid, formBody(obs), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "o2sat")
	assert.Equal(t, int32(0), upstream.calls.Load())
}

func TestHistoryPage(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.05}, labels: []string{"Alto risco"}}, domain.SessionConfig{})
	sid := env.newSession(t)

	rec := env.do(t, http.MethodGet, "/history", sid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No predictions yet")

	require.Equal(t, http.StatusCreated, env.postObservation(t, sid, validObservation()).Code)

	rec = env.do(t, http.MethodGet, "/history", sid, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<svg")
	assert.Contains(t, body, "Inconsistency detected")
	assert.Equal(t, 1, strings.Count(body, "<circle"))
}

func TestStaticRoutes(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.1}}, domain.SessionConfig{})

	rec := env.do(t, http.MethodGet, "/", "", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/predict", rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/about", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "30.0%")
	assert.Contains(t, rec.Body.String(), "60.0%")
}

func TestSessionCookieIssued(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.1}}, domain.SessionConfig{})

	rec := env.do(t, http.MethodGet, "/predict", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sepsis_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, rec.Header().Get(middleware.SessionHeader), cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, cookie.Value, rec.Header().Get(middleware.SessionHeader))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.1}}, domain.SessionConfig{})

	rec := env.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status    string `json:"status"`
		Predictor struct {
			Healthy        bool   `json:"healthy"`
			ModelLoaded    bool   `json:"model_loaded"`
			CircuitBreaker string `json:"circuit_breaker"`
		} `json:"predictor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.Predictor.Healthy)
	assert.True(t, body.Predictor.ModelLoaded)
	assert.Equal(t, "disabled", body.Predictor.CircuitBreaker)
	assert.Empty(t, rec.Header().Get(middleware.SessionHeader))
}

func TestPanicReturnsDashboardError(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{probabilities: []float64{0.1}}, domain.SessionConfig{})
	env.server.router.GET("/boom", func(c *gin.Context) {
		panic("template exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Correlation-ID", "req-42")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	derr := decodeError(t, rec)
	assert.Equal(t, domain.ErrInternalServer, derr.Code)
	assert.Equal(t, "req-42", derr.RequestID)
	assert.NotContains(t, rec.Body.String(), "template exploded")
}

func TestSecurityHeaders_HSTSOnlyInProduction(t *testing.T) {
	logger := logging.NewNopLogger()
	tests := []struct {
		environment string
		expectHSTS  bool
	}{
		{"production", true},
		{"development", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("env="+tt.environment, func(t *testing.T) {
			cfg := &domain.Config{
				Environment: tt.environment,
				Predictor:   domain.PredictorConfig{BaseURL: "http://127.0.0.1:1", PredictTimeout: time.Second, HealthTimeout: time.Second},
				Session:     domain.SessionConfig{CookieName: "sepsis_session", TTL: time.Hour},
			}
			sessions := session.NewManager(cfg.Session, "test:", nil, logger)
			server, err := NewServer(&stubConfig{config: cfg}, external.NewPredictorClient(cfg.Predictor, logger), sessions, service.NewHistoryAggregator(logger), logger)
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
			if tt.expectHSTS {
				assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
			} else {
				assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
			}
		})
	}
}
