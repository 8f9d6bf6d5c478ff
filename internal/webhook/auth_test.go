package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/pulldock/internal/webhook/mocks"
)

func TestValidateAdminToken(t *testing.T) {
	t.Parallel()

	if got := validateAdminToken("provided", "provided"); !got {
		t.Fatalf("expected true for matching tokens")
	}
	if got := validateAdminToken("provided", "other"); got {
		t.Fatalf("expected false for mismatched tokens")
	}
	if got := validateAdminToken("", "configured"); got {
		t.Fatalf("expected false for empty provided token")
	}
	if got := validateAdminToken("provided", ""); got {
		t.Fatalf("expected false for empty configured token")
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	token, err := extractBearerToken(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "test-token" {
		t.Fatalf("expected token %q, got %q", "test-token", token)
	}

	req2 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	if _, err := extractBearerToken(req2); err == nil {
		t.Fatalf("expected error for missing header")
	}

	req3 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req3.Header.Set("Authorization", "Basic abc")
	if _, err := extractBearerToken(req3); err == nil {
		t.Fatalf("expected error for non-bearer header")
	}

	req4 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req4.Header.Set("Authorization", "Bearer   ")
	if _, err := extractBearerToken(req4); err == nil {
		t.Fatalf("expected error for empty bearer token")
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig()
	cfg.Server.AdminToken = "admin-token"
	server, _ := newTestServer(t, cfg, mocks.NewMockActionDispatcher(ctrl))
	router := server.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/deliveries", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected status 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/deliveries", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected status 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/deliveries", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token: expected status 200, got %d", rr.Code)
	}

	// Health and project listings stay open even with a token configured.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: expected status 200, got %d", rr.Code)
	}
}

func TestAdminEndpointsOpenWithoutToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	server, _ := newTestServer(t, testConfig(), mocks.NewMockActionDispatcher(ctrl))
	router := server.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/deliveries", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
