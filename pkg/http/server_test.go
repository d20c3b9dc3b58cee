package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"Backtest/pkg/logger"
)

type pingRequest struct {
	ID    string `param:"id" validate:"required,alphanum"`
	Count int    `query:"count" default:"3" validate:"gte=1,lte=10"`
}

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping/:id", func(c echo.Context) error {
		req := &pingRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/boom", func(echo.Context) error { panic("boom") })
	e.GET("/missing", func(c echo.Context) error {
		return AppErrorResponse(c, NotFoundError("gone"))
	})
	e.GET("/fail", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("disk on fire"))
	})
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServerRoutesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(logger.Nop(), []Handler{pingHandler{}}, WithMetrics("/metrics", reg, reg))

	rec := serve(s, "/ping/abc")
	if !strings.Contains(rec.Body.String(), `"Count":3`) {
		t.Fatalf("defaults not applied: %s", rec.Body.String())
	}
	rec = serve(s, "/ping/abc?count=50")
	if !strings.Contains(rec.Body.String(), `"status":400`) || !strings.Contains(rec.Body.String(), "ERR_LTE") ||
		!strings.Contains(rec.Body.String(), `"field":"count"`) {
		t.Fatalf("validation not reported: %s", rec.Body.String())
	}
	rec = serve(s, "/missing")
	if !strings.Contains(rec.Body.String(), `"status":404`) || !strings.Contains(rec.Body.String(), "ERR_NOT_FOUND") {
		t.Fatalf("app error = %s", rec.Body.String())
	}
	rec = serve(s, "/fail")
	if body := rec.Body.String(); !strings.Contains(body, "ERR_INTERNAL") || strings.Contains(body, "disk on fire") {
		t.Fatalf("plain errors should be hidden: %s", body)
	}
	rec = serve(s, "/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panic status = %d", rec.Code)
	}

	rec = serve(s, "/metrics")
	body := rec.Body.String()
	if !strings.Contains(body, `backtest_http_requests_total{method="GET",route="/ping/:id",status="200"} 2`) {
		t.Fatalf("route metrics missing:\n%s", body)
	}
}

func TestServerWithoutMetrics(t *testing.T) {
	s := NewServer(logger.Nop(), nil)
	if rec := serve(s, "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should be disabled, got %d", rec.Code)
	}
}

func TestCORSAllowList(t *testing.T) {
	s := NewServer(logger.Nop(), []Handler{pingHandler{}}, WithCORS("https://ui.example"))

	req := httptest.NewRequest(http.MethodOptions, "/ping/abc", nil)
	req.Header.Set(echo.HeaderOrigin, "https://ui.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	h := rec.Header()
	if h.Get(echo.HeaderAccessControlAllowOrigin) != "https://ui.example" ||
		!strings.Contains(h.Get(echo.HeaderAccessControlAllowMethods), http.MethodPost) ||
		h.Get(echo.HeaderAccessControlMaxAge) != "600" {
		t.Fatalf("preflight headers = %v", h)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping/abc", nil)
	req.Header.Set(echo.HeaderOrigin, "https://elsewhere.example")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderAccessControlAllowOrigin) != "" {
		t.Fatalf("foreign origin got %d %v", rec.Code, rec.Header())
	}
}
