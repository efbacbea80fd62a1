package httpkit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"exposure_backend/platform/config"

	"github.com/gin-gonic/gin"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func serve(engine *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/", AuthRequired(&config.Config{JWTAccessSecret: "secret"}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := serve(engine, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != errMissingToken {
		t.Fatalf("expected %q, got %q", errMissingToken, body.Error)
	}

	if rec := serve(engine, "Bearer not-a-jwt"); rec.Code != http.StatusUnauthorized || decodeError(t, rec).Error != errInvalidToken {
		t.Fatalf("expected invalid token 401, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequireRoleForbidsMissingRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/", func(c *gin.Context) {
		c.Set(ContextRolesKey, []string{"viewer"})
	}, RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := serve(engine, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "forbidden" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHandleErrorHidesUntypedErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	var recorded int
	engine.GET("/", func(c *gin.Context) {
		HandleError(c, errors.New("connection reset by peer"))
		recorded = len(c.Errors)
	})

	rec := serve(engine, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "internal error" {
		t.Fatalf("expected the cause to stay hidden, got %q", body.Error)
	}
	if recorded != 1 {
		t.Fatalf("expected the cause attached for the request logger, got %d errors", recorded)
	}
}
