package canvasapi

import (
	"fmt"
	"net/url"
)

// EncodeRubricAssessment flattens a map of criterionID to
// RubricAssessmentEntry into Canvas's bracketed form-encoded wire
// format. Canvas rejects nested JSON at this endpoint, so the result
// MUST be sent with FormEncoded: true and url.Values' repeated-key
// encoding (never collapsed to the last occurrence).
func EncodeRubricAssessment(assessment map[string]RubricAssessmentEntry, overallComment string) url.Values {
	values := url.Values{}

	for criterionID, entry := range assessment {
		prefix := fmt.Sprintf("rubric_assessment[%s]", criterionID)
		values.Add(prefix+"[points]", formatFloat(entry.Points))
		if entry.RatingID != "" {
			values.Add(prefix+"[rating_id]", entry.RatingID)
		}
		if entry.Comments != "" {
			values.Add(prefix+"[comments]", entry.Comments)
		}
	}

	if overallComment != "" {
		values.Add("comment[text_comment]", overallComment)
	}

	return values
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
