// Package canvasapi implements the resilient, rate-aware, paginated
// HTTP gateway to Canvas, its pagination walker, adaptive rate
// limiter, and the rubric assessment form encoder.
package canvasapi

import (
	"encoding/json"
	"time"
)

// Course represents a Canvas course, trimmed to the fields the
// Course Cache and Tool Dispatch Surface actually consume.
type Course struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	CourseCode       string     `json:"course_code"`
	SISCourseID      string     `json:"sis_course_id"`
	WorkflowState    string     `json:"workflow_state"`
	AccountID        int64      `json:"account_id"`
	EnrollmentTermID int64      `json:"enrollment_term_id"`
	StartAt          *time.Time `json:"start_at"`
	EndAt            *time.Time `json:"end_at"`
}

// Assignment represents a Canvas assignment, including the rubric
// configuration the bulk grader's pre-flight check inspects.
type Assignment struct {
	ID                  int64             `json:"id"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	DueAt               *time.Time        `json:"due_at"`
	CourseID            int64             `json:"course_id"`
	PointsPossible      float64           `json:"points_possible"`
	UseRubricForGrading bool              `json:"use_rubric_for_grading"`
	RubricSettings      map[string]any    `json:"rubric_settings,omitempty"`
	Rubric              []RubricCriterion `json:"rubric,omitempty"`
}

// RubricCriterion describes one scored row of a rubric.
type RubricCriterion struct {
	ID              string         `json:"id"`
	Description     string         `json:"description"`
	LongDescription string         `json:"long_description"`
	Points          float64        `json:"points"`
	Ratings         []RubricRating `json:"ratings"`
}

// RubricRating is one point-value option within a criterion.
type RubricRating struct {
	ID              string  `json:"id"`
	Description     string  `json:"description"`
	LongDescription string  `json:"long_description"`
	Points          float64 `json:"points"`
}

// RubricAssessmentEntry is a single criterion's scored result, the
// per-criterion unit the Rubric Assessment Encoder flattens.
type RubricAssessmentEntry struct {
	Points   float64 `json:"points"`
	RatingID string  `json:"rating_id,omitempty"`
	Comments string  `json:"comments,omitempty"`
}

// Decode remarshals a parsed gateway value into a typed target. The
// gateway hands back generic trees so the anonymizer can walk them;
// callers that need typed fields decode the slice of the tree they
// care about.
func Decode(value any, target any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
