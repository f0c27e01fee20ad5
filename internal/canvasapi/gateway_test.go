package canvasapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instructure-oss/canvas-mcp-server/internal/anonymize"
	"github.com/instructure-oss/canvas-mcp-server/internal/audit"
	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
)

func newTestGateway(t *testing.T, server *httptest.Server) *Gateway {
	t.Helper()
	return NewGateway(GatewayConfig{
		BaseURL:          server.URL,
		Token:            "test-token",
		RateLimiter:      NewRateLimiter(100, 1, 200, nil),
		AnonymizeEnabled: true,
		Pseudonyms:       anonymize.NewPseudonymizer(),
	})
}

func TestGateway_Request_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id": 1, "name": "Intro to Go"}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	result, err := g.Request(context.Background(), RequestOptions{Method: "GET", Endpoint: "/courses/1", SkipAnonymize: true})
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, "Intro to Go", m["name"])
}

func TestGateway_Request_AnonymizesStudentBearingEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 9824, "name": "Jane Doe", "email": "jane@u.edu"}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	result, err := g.Request(context.Background(), RequestOptions{Method: "GET", Endpoint: "/courses/1/users/9824"})
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.NotEqual(t, "Jane Doe", m["name"])
	assert.Contains(t, m["email"], "@example.edu")
}

func TestGateway_Request_SkipAnonymizeHonored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 9824, "name": "Jane Doe", "email": "jane@u.edu"}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	result, err := g.Request(context.Background(), RequestOptions{Method: "GET", Endpoint: "/courses/1/users/9824", SkipAnonymize: true})
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, "Jane Doe", m["name"])
}

func TestGateway_Request_404ReturnsNotFoundEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors": [{"message": "not found"}]}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	_, err := g.Request(context.Background(), RequestOptions{Method: "GET", Endpoint: "/courses/999"})
	require.Error(t, err)

	gerr, ok := err.(*gwerr.Error)
	require.True(t, ok)
	assert.Equal(t, gwerr.NotFound, gerr.Code)
}

func TestGateway_Request_RetriesOn429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	_, err := g.Request(context.Background(), RequestOptions{Method: "GET", Endpoint: "/courses/1", SkipAnonymize: true})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGateway_Request_Final429ReturnsCanvasAPICode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	_, err := g.Request(context.Background(), RequestOptions{Method: "GET", Endpoint: "/courses/1", SkipAnonymize: true})
	require.Error(t, err)

	gerr, ok := err.(*gwerr.Error)
	require.True(t, ok)
	assert.Equal(t, gwerr.CanvasAPI, gerr.Code, "final failure after exhausting 429 retries must be canvas-api, not rate-limited")
}

func TestGateway_Request_BodyResentIntactOn429Retry(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if len(bodies) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	values := url.Values{}
	values.Set("submission[posted_grade]", "95")

	_, err := g.Request(context.Background(), RequestOptions{
		Method:        "PUT",
		Endpoint:      "/courses/1/assignments/2/submissions/3",
		Body:          values,
		FormEncoded:   true,
		SkipAnonymize: true,
	})
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1], "the retried request must carry the same body, not a drained reader")
	assert.NotEmpty(t, bodies[1])
}

func TestGateway_Request_AuditCarriesContextRequestID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	auditLogger, err := audit.New(dir, true, false)
	require.NoError(t, err)

	g := NewGateway(GatewayConfig{BaseURL: server.URL, Token: "t", Audit: auditLogger})

	ctx := audit.ContextWithRequestID(context.Background(), "tool-call-7")
	_, err = g.Request(ctx, RequestOptions{Method: "GET", Endpoint: "/courses/1", SkipAnonymize: true})
	require.NoError(t, err)
	require.NoError(t, auditLogger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"tool-call-7"`)
}

func TestGateway_Request_FormEncodedSendsEveryRubricField(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server)
	values := EncodeRubricAssessment(map[string]RubricAssessmentEntry{
		"a": {Points: 1},
		"b": {Points: 2},
	}, "")

	_, err := g.Request(context.Background(), RequestOptions{
		Method:        "PUT",
		Endpoint:      "/submissions/1",
		Body:          values,
		FormEncoded:   true,
		SkipAnonymize: true,
	})
	require.NoError(t, err)
	assert.Contains(t, gotBody, "rubric_assessment%5Ba%5D%5Bpoints%5D=1")
	assert.Contains(t, gotBody, "rubric_assessment%5Bb%5D%5Bpoints%5D=2")
}
