package grader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/instructure-oss/canvas-mcp-server/internal/canvasapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGrader(t *testing.T, handler http.HandlerFunc) *Grader {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	gw := canvasapi.NewGateway(canvasapi.GatewayConfig{BaseURL: server.URL, Token: "t"})
	return New(gw)
}

func TestBulkGrade_ScalarGradesAllSucceed(t *testing.T) {
	g := newTestGrader(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	grades := map[string]GradeEntry{
		"1": {Grade: "90"},
		"2": {Grade: "85"},
		"3": {Grade: "70"},
	}

	report, err := g.BulkGrade(context.Background(), "10", "20", grades, false, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 3, report.Graded)
	assert.Equal(t, 0, report.Failed)
}

func TestBulkGrade_FailingSubmissionRecordedWithoutAbortingBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/courses/10/assignments/20/submissions/2" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"errors":[{"message":"boom"}]}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gw := canvasapi.NewGateway(canvasapi.GatewayConfig{BaseURL: server.URL, Token: "t"})
	g := New(gw)

	grades := map[string]GradeEntry{
		"1": {Grade: "90"},
		"2": {Grade: "85"},
		"3": {Grade: "70"},
	}

	report, err := g.BulkGrade(context.Background(), "10", "20", grades, false, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 2, report.Graded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "2", report.Failures[0].UserID)
}

func TestBulkGrade_BatchesCompleteBeforeNextBegins(t *testing.T) {
	var mu sync.Mutex
	var inFlightMax, inFlight int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > inFlightMax {
			inFlightMax = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gw := canvasapi.NewGateway(canvasapi.GatewayConfig{BaseURL: server.URL, Token: "t"})
	g := New(gw)

	grades := map[string]GradeEntry{
		"1": {Grade: "90"}, "2": {Grade: "90"}, "3": {Grade: "90"}, "4": {Grade: "90"},
	}

	report, err := g.BulkGrade(context.Background(), "10", "20", grades, false, 2, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Graded)
	assert.LessOrEqual(t, inFlightMax, 2)
}

func TestBulkGrade_DryRunMakesNoHTTPCalls(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gw := canvasapi.NewGateway(canvasapi.GatewayConfig{BaseURL: server.URL, Token: "t"})
	g := New(gw)

	grades := map[string]GradeEntry{"1": {Grade: "90"}}
	report, err := g.BulkGrade(context.Background(), "10", "20", grades, true, 5, 0)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Graded)
	assert.Equal(t, 0, calls)
}

func TestBulkGrade_RubricPreflightAbortsWhenNotUsingRubric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/courses/10/assignments/20" {
			w.Write([]byte(`{"id": 20, "use_rubric_for_grading": false}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gw := canvasapi.NewGateway(canvasapi.GatewayConfig{BaseURL: server.URL, Token: "t"})
	g := New(gw)

	grades := map[string]GradeEntry{
		"1": {RubricAssessment: map[string]canvasapi.RubricAssessmentEntry{"_1": {Points: 5}}},
	}

	report, err := g.BulkGrade(context.Background(), "10", "20", grades, false, 5, 0)
	require.Error(t, err)
	assert.Nil(t, report)
}

func TestBulkGrade_RubricPreflightDoesNotAbortDryRunEvenWhenMisconfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/courses/10/assignments/20" {
			w.Write([]byte(`{"id": 20, "use_rubric_for_grading": false}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gw := canvasapi.NewGateway(canvasapi.GatewayConfig{BaseURL: server.URL, Token: "t"})
	g := New(gw)

	grades := map[string]GradeEntry{
		"1": {RubricAssessment: map[string]canvasapi.RubricAssessmentEntry{"_1": {Points: 5}}},
	}

	report, err := g.BulkGrade(context.Background(), "10", "20", grades, true, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Graded)
}
