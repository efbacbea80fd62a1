package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure"
	"exposure_backend/internal/exposure/domain"
	apphttp "exposure_backend/internal/http"
	"exposure_backend/internal/summary"
	"exposure_backend/platform/config"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"
	"exposure_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const testSecret = "test-secret"

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{JWTAccessSecret: testSecret, CORSAllowAll: true, ExposureWorkers: 2}
	log := logger.New("development")
	store := docstore.NewMemoryStore()
	bus := events.NewInMemoryBus(log)
	sum := summary.New(store, log)
	sum.Subscribe(bus)

	module := exposure.NewModule(store, bus, sum, nil, validator.New(), cfg, log)
	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Metrics:  prometheus.NewRegistry(),
		EventBus: bus,
		Modules:  []apphttp.Module{module},
	}
	return New(app)
}

func token(t *testing.T, orgID uuid.UUID) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    uuid.NewString(),
		"org_id": orgID.String(),
		"type":   "access",
		"roles":  []string{"member"},
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func do(engine *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	engine := newTestEngine(t)
	if rec := do(engine, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	if rec := do(engine, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestRequestIDIsEchoedOrAssigned(t *testing.T) {
	engine := newTestEngine(t)
	if rec := do(engine, http.MethodGet, "/api/health", "", nil); rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected an assigned request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected incoming request id to be echoed, got %q", got)
	}
}

func TestExposureRoutesRequireAuth(t *testing.T) {
	engine := newTestEngine(t)
	if rec := do(engine, http.MethodGet, "/api/v1/exposure/summary", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestImportThenReadGroupAndSummary(t *testing.T) {
	engine := newTestEngine(t)
	orgID := uuid.New()
	bearer := token(t, orgID)

	rec := do(engine, http.MethodPost, "/api/v1/exposure/imports", bearer, map[string]any{
		"jobId": "job-1",
		"groups": []map[string]any{{
			"name": "Welding Bay",
			"samples": []map[string]any{
				{"sampleNumber": "1", "sampleDate": "2026-01-01", "agent": "Lead", "twa": 0.04},
				{"sampleNumber": "2", "sampleDate": "2026-01-02", "agent": "Lead", "twa": "0.05"},
			},
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var imported struct {
		RowsWritten int64  `json:"rowsWritten"`
		Status      string `json:"status"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &imported)
	if imported.RowsWritten != 2 || imported.Status != "completed" {
		t.Fatalf("unexpected import response %s", rec.Body.String())
	}

	groupID := domain.GroupID(orgID, "Welding Bay")
	rec = do(engine, http.MethodGet, "/api/v1/exposure/groups/"+groupID, bearer, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"lead"`) {
		t.Fatalf("group: unexpected %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(engine, http.MethodGet, "/api/v1/exposure/summary", bearer, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), groupID) {
		t.Fatalf("summary: unexpected %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(engine, http.MethodGet, "/api/v1/exposure/jobs/job-1", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("job: expected 200, got %d", rec.Code)
	}

	other := token(t, uuid.New())
	if rec := do(engine, http.MethodGet, "/api/v1/exposure/groups/"+groupID, other, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected another organization to get 404, got %d", rec.Code)
	}
}

func TestUndoRoutes(t *testing.T) {
	engine := newTestEngine(t)
	bearer := token(t, uuid.New())

	if rec := do(engine, http.MethodPost, "/api/v1/exposure/imports/unknown/undo", bearer, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown job, got %d", rec.Code)
	}
	if rec := do(engine, http.MethodPost, "/api/v1/exposure/imports/unknown/undo?async=true", bearer, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a task queue, got %d", rec.Code)
	}
}

func TestImportRejectsInvalidBody(t *testing.T) {
	engine := newTestEngine(t)
	bearer := token(t, uuid.New())

	rec := do(engine, http.MethodPost, "/api/v1/exposure/imports", bearer, map[string]any{"groups": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRemoveAgentsReportsPartialFailure(t *testing.T) {
	engine := newTestEngine(t)
	bearer := token(t, uuid.New())

	rec := do(engine, http.MethodPost, "/api/v1/exposure/agents/remove", bearer, map[string]any{
		"removals": []map[string]any{{"groupId": "missing", "agentKey": "lead"}},
	})
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", rec.Code, rec.Body.String())
	}
}
