package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/cloak/internal/audit"
	"github.com/dativo-io/cloak/internal/detector"
	"github.com/dativo-io/cloak/internal/redact"
)

type stubDetector struct {
	spans []redact.Span
	err   error
}

func (d *stubDetector) Detect(ctx context.Context, text, language string) ([]redact.Span, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.spans, nil
}

func newTestHandler(t *testing.T, det redact.Detector, opts ...Option) http.Handler {
	t.Helper()
	engine := redact.NewEngine(det)
	return NewServer(engine, opts...).Routes()
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotContains(t, resp, "components")
}

func TestHealthDetail(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{})

	req := httptest.NewRequest(http.MethodGet, "/v1/health?detail=true", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Components["engine"])
	assert.Equal(t, "disabled", resp.Components["audit_store"])
}

func TestAnonymize(t *testing.T) {
	// "Email john@acme.test today" with the address at bytes 6..20.
	det := &stubDetector{spans: []redact.Span{
		{EntityType: "EMAIL_ADDRESS", Start: 6, End: 20, Score: 1.0},
	}}
	handler := newTestHandler(t, det)

	rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{
		"text": "Email john@acme.test today",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp redact.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Email <Email_1> today", resp.Text)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "EMAIL_ADDRESS", resp.Entities[0].Type)
	assert.Equal(t, "john@acme.test", resp.Entities[0].Original)
	assert.Equal(t, "<Email_1>", resp.Entities[0].Label)
}

func TestAnonymizeLegacyPath(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{})

	rr := postJSON(t, handler, "/anonymize", map[string]interface{}{
		"text": "nothing sensitive here",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp redact.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "nothing sensitive here", resp.Text)
	assert.Empty(t, resp.Entities)
}

func TestAnonymizeWithCustomRules(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{})

	rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{
		"text": "ticket ref ACME-1234",
		"custom_rules": []map[string]interface{}{
			{"pattern": `ACME-\d+`, "target_type": "TICKET_ID"},
		},
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp redact.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "TICKET_ID", resp.Entities[0].Type)
	assert.NotContains(t, resp.Text, "ACME-1234")
}

func TestAnonymizeBadRequests(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/anonymize", bytes.NewReader([]byte("{not json")))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown operator", func(t *testing.T) {
		rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{
			"text": "x", "operator": "scramble",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{
			"text": "x", "score_threshold": 2.0,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAnonymizeDetectorFailure(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{err: errors.New("model backend down")})

	rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{"text": "x"}, nil)

	require.Equal(t, http.StatusBadGateway, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "detector_unavailable", resp["error"])
}

func TestAuth(t *testing.T) {
	keys := map[string]string{"sk-test": "acme"}
	handler := newTestHandler(t, &stubDetector{}, WithAPIKeys(keys))

	t.Run("missing key rejected", func(t *testing.T) {
		rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{"text": "x"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{"text": "x"},
			map[string]string{"X-Cloak-Key": "sk-wrong"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("header key accepted", func(t *testing.T) {
		rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{"text": "x"},
			map[string]string{"X-Cloak-Key": "sk-test"})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{"text": "x"},
			map[string]string{"Authorization": "Bearer sk-test"})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRateLimit(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{}, WithRateLimiter(NewRateLimiter(1, 1)))

	first := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{"text": "x"}, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{"text": "x"}, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{}, WithCORSOrigins([]string{"https://app.example"}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/anonymize", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-Cloak-Key")
}

func TestCORSUnknownOriginGetsNoAllowHeader(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{}, WithCORSOrigins([]string{"https://app.example"}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestPatterns(t *testing.T) {
	infos := detector.MustNew().Recognizers()
	handler := newTestHandler(t, &stubDetector{}, WithRecognizerInfo(infos))

	req := httptest.NewRequest(http.MethodGet, "/v1/patterns", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Recognizers []detector.RecognizerInfo `json:"recognizers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Recognizers)
}

func TestAuditEndpoint(t *testing.T) {
	store, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	det := &stubDetector{spans: []redact.Span{
		{EntityType: "PERSON", Start: 0, End: 10, Score: 0.9},
	}}
	handler := newTestHandler(t, det, WithAuditStore(store))

	rr := postJSON(t, handler, "/v1/anonymize", map[string]interface{}{
		"text": "John Smith logged in",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	lr := httptest.NewRecorder()
	handler.ServeHTTP(lr, req)
	require.Equal(t, http.StatusOK, lr.Code)

	var resp struct {
		Records []audit.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(lr.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)

	rec := resp.Records[0]
	assert.Equal(t, "default", rec.Caller)
	assert.Equal(t, map[string]int{"PERSON": 1}, rec.EntityCounts)
	assert.Equal(t, 1, rec.TotalEntities)

	// Counts only. The original text must never reach the audit trail.
	assert.NotContains(t, lr.Body.String(), "John Smith")
}

func TestAuditEndpointDisabled(t *testing.T) {
	handler := newTestHandler(t, &stubDetector{})

	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
