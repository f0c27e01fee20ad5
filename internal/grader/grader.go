// Package grader implements concurrency-bounded bulk grade submission:
// batches of students are graded in parallel, with a pause between
// batches, and per-student failures never abort the run.
package grader

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/instructure-oss/canvas-mcp-server/internal/canvasapi"
	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
)

// GradeEntry is a single student's grade instruction. At least one of
// Grade or RubricAssessment must be set.
type GradeEntry struct {
	RubricAssessment map[string]canvasapi.RubricAssessmentEntry
	Grade            string
	Comment          string
}

// Outcome records what happened when submitting one student's grade.
type Outcome struct {
	UserID string
	OK     bool
	Error  string
}

// Report summarizes a bulk-grade run.
type Report struct {
	Requested int
	Graded    int
	Failed    int
	DryRun    bool
	Failures  []Outcome // first-N failures, in submission order
}

const maxSampledFailures = 20

// Grader submits grades to a single assignment's submission endpoint,
// batch by batch.
type Grader struct {
	gateway *canvasapi.Gateway
}

func New(gateway *canvasapi.Gateway) *Grader {
	return &Grader{gateway: gateway}
}

// BulkGrade grades every entry in `grades`, maxConcurrent at a time, with
// batchDelay slept between batches. The assignment's rubric configuration
// is checked first whenever any entry carries a rubric assessment.
func (g *Grader) BulkGrade(ctx context.Context, courseID, assignmentID string, grades map[string]GradeEntry, dryRun bool, maxConcurrent int, batchDelay time.Duration) (*Report, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	usesRubric := false
	for _, entry := range grades {
		if len(entry.RubricAssessment) > 0 {
			usesRubric = true
			break
		}
	}

	if usesRubric {
		if err := g.preflightRubricCheck(ctx, courseID, assignmentID, dryRun); err != nil {
			return nil, err
		}
	}

	userIDs := make([]string, 0, len(grades))
	for id := range grades {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	report := &Report{Requested: len(userIDs), DryRun: dryRun}

	for start := 0; start < len(userIDs); start += maxConcurrent {
		end := start + maxConcurrent
		if end > len(userIDs) {
			end = len(userIDs)
		}
		batch := userIDs[start:end]

		var wg sync.WaitGroup
		outcomes := make([]Outcome, len(batch))
		for i, userID := range batch {
			wg.Add(1)
			go func(i int, userID string) {
				defer wg.Done()
				outcomes[i] = g.submitOne(ctx, courseID, assignmentID, userID, grades[userID], dryRun)
			}(i, userID)
		}
		wg.Wait()

		for _, o := range outcomes {
			if o.OK {
				report.Graded++
			} else {
				report.Failed++
				if len(report.Failures) < maxSampledFailures {
					report.Failures = append(report.Failures, o)
				}
			}
		}

		if end < len(userIDs) && batchDelay > 0 {
			select {
			case <-ctx.Done():
				return report, nil
			case <-time.After(batchDelay):
			}
		}
	}

	return report, nil
}

func (g *Grader) preflightRubricCheck(ctx context.Context, courseID, assignmentID string, dryRun bool) error {
	endpoint := fmt.Sprintf("/courses/%s/assignments/%s", courseID, assignmentID)
	result, err := g.gateway.Request(ctx, canvasapi.RequestOptions{
		Method:        "GET",
		Endpoint:      endpoint,
		Query:         url.Values{"include[]": {"rubric_assessment"}},
		SkipAnonymize: true,
	})
	if err != nil {
		return err
	}

	var assignment canvasapi.Assignment
	if err := canvasapi.Decode(result, &assignment); err != nil {
		return gwerr.Wrap(gwerr.CanvasAPI, "unexpected assignment response shape", err)
	}

	if !assignment.UseRubricForGrading && !dryRun {
		return gwerr.New(gwerr.Validation, "assignment does not use the rubric for grading; rubric scores would not persist").
			WithSuggestion("enable \"use rubric for grading\" on the assignment, or submit scalar grades instead")
	}
	return nil
}

func (g *Grader) submitOne(ctx context.Context, courseID, assignmentID, userID string, entry GradeEntry, dryRun bool) Outcome {
	values := canvasapi.EncodeRubricAssessment(entry.RubricAssessment, entry.Comment)
	if entry.Grade != "" {
		values.Set("submission[posted_grade]", entry.Grade)
	}

	if dryRun {
		return Outcome{UserID: userID, OK: true}
	}

	endpoint := fmt.Sprintf("/courses/%s/assignments/%s/submissions/%s", courseID, assignmentID, userID)
	_, err := g.gateway.Request(ctx, canvasapi.RequestOptions{
		Method:        "PUT",
		Endpoint:      endpoint,
		Body:          values,
		FormEncoded:   true,
		SkipAnonymize: true,
	})
	if err != nil {
		return Outcome{UserID: userID, OK: false, Error: err.Error()}
	}
	return Outcome{UserID: userID, OK: true}
}
