package canvasapi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeRubricAssessment_Fields(t *testing.T) {
	values := EncodeRubricAssessment(map[string]RubricAssessmentEntry{
		"_1234": {Points: 2, RatingID: "blank", Comments: "x"},
	}, "")

	assert.Equal(t, "2", values.Get("rubric_assessment[_1234][points]"))
	assert.Equal(t, "blank", values.Get("rubric_assessment[_1234][rating_id]"))
	assert.Equal(t, "x", values.Get("rubric_assessment[_1234][comments]"))
}

func TestEncodeRubricAssessment_OverallComment(t *testing.T) {
	values := EncodeRubricAssessment(map[string]RubricAssessmentEntry{}, "nice work")
	assert.Equal(t, "nice work", values.Get("comment[text_comment]"))
}

func TestEncodeRubricAssessment_OmitsEmptyOptionalFields(t *testing.T) {
	values := EncodeRubricAssessment(map[string]RubricAssessmentEntry{
		"_1": {Points: 5},
	}, "")
	assert.Empty(t, values.Get("rubric_assessment[_1][rating_id]"))
	assert.Empty(t, values.Get("rubric_assessment[_1][comments]"))
	_, hasRating := values["rubric_assessment[_1][rating_id]"]
	assert.False(t, hasRating)
}

func TestFormEncoding_RepeatedKeysNotCollapsed(t *testing.T) {
	values := url.Values{}
	values.Add("k", "a")
	values.Add("k", "b")
	values.Add("k", "c")
	assert.Equal(t, "k=a&k=b&k=c", values.Encode())
}
