// Package mcptools registers the named operations exposed to the MCP
// host. Each tool binds a validated argument schema to a sequence of
// core calls (validate -> resolve -> gateway/paginator/bulk -> anonymize
// -> format) and is the only place that turns a core error envelope
// into the host's string protocol.
package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/instructure-oss/canvas-mcp-server/internal/anonymize"
	"github.com/instructure-oss/canvas-mcp-server/internal/audit"
	"github.com/instructure-oss/canvas-mcp-server/internal/canvasapi"
	"github.com/instructure-oss/canvas-mcp-server/internal/coursecache"
	"github.com/instructure-oss/canvas-mcp-server/internal/grader"
	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
	"github.com/instructure-oss/canvas-mcp-server/internal/upload"
	"github.com/instructure-oss/canvas-mcp-server/internal/validate"
)

// Deps bundles the core components a tool call needs to resolve an
// identifier, reach Canvas, and report outcomes.
type Deps struct {
	Gateway    *canvasapi.Gateway
	Paginator  *canvasapi.Paginator
	Cache      *coursecache.Cache
	Grader     *grader.Grader
	Uploader   *upload.Orchestrator
	Pseudonyms *anonymize.Pseudonymizer
	Anonymize  bool
	Logger     *slog.Logger
}

// Register builds the representative tool slate and attaches it to server.
func Register(server *mcp.Server, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	d := &dispatcher{deps: deps}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "canvas.list_courses",
		Description: "List every course visible to the configured token, refreshing the course cache.",
	}, d.listCourses)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "canvas.get_course",
		Description: "Fetch a single course by numeric ID, SIS ID, or course code.",
	}, d.getCourse)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "canvas.list_submissions",
		Description: "List every submission for an assignment, anonymized by default.",
	}, d.listSubmissions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "canvas.bulk_grade",
		Description: "Submit grades for many students at once, batch by batch, with a dry-run option.",
	}, d.bulkGrade)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "canvas.upload_file",
		Description: "Upload a local file to a course's Canvas files, following the three-step upload protocol.",
	}, d.uploadFile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "canvas.list_discussion_entries",
		Description: "List every entry in a discussion topic, anonymized by default.",
	}, d.listDiscussionEntries)
}

type dispatcher struct {
	deps Deps
}

// withRequestID stamps a fresh correlation ID onto ctx so every audit
// event emitted on behalf of this tool call shares it.
func withRequestID(ctx context.Context) context.Context {
	return audit.ContextWithRequestID(ctx, audit.NewRequestID())
}

// rawString maps an absent (empty) string argument to nil, so a
// Required param reports a missing-parameter validation error.
func rawString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// respond renders a success value or an error envelope as the single
// string the host sees. Core errors never cross this boundary as Go
// errors to the SDK; they are formatted here, per the dispatch contract.
func respond(value any, err error) (string, error) {
	if err != nil {
		return gwerr.Render(err), nil
	}
	encoded, encErr := json.Marshal(value)
	if encErr != nil {
		return gwerr.Render(gwerr.Wrap(gwerr.CanvasAPI, "failed to encode result", encErr)), nil
	}
	return string(encoded), nil
}

// ---- canvas.list_courses ----

type listCoursesInput struct{}

type toolOutput struct {
	Result string `json:"result"`
}

func (d *dispatcher) listCourses(ctx context.Context, _ *mcp.CallToolRequest, _ listCoursesInput) (*mcp.CallToolResult, toolOutput, error) {
	ctx = withRequestID(ctx)
	if err := d.deps.Cache.Refresh(ctx); err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}
	records, err := d.deps.Paginator.Paginate(ctx, "/courses", nil, d.deps.Anonymize, d.deps.Pseudonyms)
	result, _ := respond(records, err)
	return nil, toolOutput{Result: result}, nil
}

// ---- canvas.get_course ----

type getCourseInput struct {
	CourseID string `json:"course_id"`
}

func (d *dispatcher) getCourse(ctx context.Context, _ *mcp.CallToolRequest, in getCourseInput) (*mcp.CallToolResult, toolOutput, error) {
	ctx = withRequestID(ctx)
	coerced, err := validate.CoerceAll([]validate.Param{
		{Name: "course_id", Raw: rawString(in.CourseID), Declared: validate.TypeString, Required: true},
	})
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	id, err := d.deps.Cache.ResolveToID(ctx, coerced["course_id"].(string))
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	value, err := d.deps.Gateway.Request(ctx, canvasapi.RequestOptions{
		Method:   "GET",
		Endpoint: "/courses/" + id,
	})
	result, _ := respond(value, err)
	return nil, toolOutput{Result: result}, nil
}

// ---- canvas.list_submissions ----

type listSubmissionsInput struct {
	CourseID     string `json:"course_id"`
	AssignmentID string `json:"assignment_id"`
}

func (d *dispatcher) listSubmissions(ctx context.Context, _ *mcp.CallToolRequest, in listSubmissionsInput) (*mcp.CallToolResult, toolOutput, error) {
	ctx = withRequestID(ctx)
	coerced, err := validate.CoerceAll([]validate.Param{
		{Name: "course_id", Raw: rawString(in.CourseID), Declared: validate.TypeString, Required: true},
		{Name: "assignment_id", Raw: rawString(in.AssignmentID), Declared: validate.TypeString, Required: true},
	})
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	courseID, err := d.deps.Cache.ResolveToID(ctx, coerced["course_id"].(string))
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	endpoint := "/courses/" + courseID + "/assignments/" + coerced["assignment_id"].(string) + "/submissions"
	records, err := d.deps.Paginator.Paginate(ctx, endpoint, nil, d.deps.Anonymize, d.deps.Pseudonyms)
	result, _ := respond(records, err)
	return nil, toolOutput{Result: result}, nil
}

// ---- canvas.list_discussion_entries ----

type listDiscussionEntriesInput struct {
	CourseID string `json:"course_id"`
	TopicID  string `json:"topic_id"`
}

func (d *dispatcher) listDiscussionEntries(ctx context.Context, _ *mcp.CallToolRequest, in listDiscussionEntriesInput) (*mcp.CallToolResult, toolOutput, error) {
	ctx = withRequestID(ctx)
	coerced, err := validate.CoerceAll([]validate.Param{
		{Name: "course_id", Raw: rawString(in.CourseID), Declared: validate.TypeString, Required: true},
		{Name: "topic_id", Raw: rawString(in.TopicID), Declared: validate.TypeString, Required: true},
	})
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	courseID, err := d.deps.Cache.ResolveToID(ctx, coerced["course_id"].(string))
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	endpoint := "/courses/" + courseID + "/discussion_topics/" + coerced["topic_id"].(string) + "/entries"
	records, err := d.deps.Paginator.Paginate(ctx, endpoint, nil, d.deps.Anonymize, d.deps.Pseudonyms)
	result, _ := respond(records, err)
	return nil, toolOutput{Result: result}, nil
}

// ---- canvas.bulk_grade ----

type bulkGradeInput struct {
	CourseID      string                    `json:"course_id"`
	AssignmentID  string                    `json:"assignment_id"`
	Grades        map[string]gradeEntryJSON `json:"grades"`
	DryRun        bool                      `json:"dry_run,omitempty"`
	MaxConcurrent int                       `json:"max_concurrent,omitempty"`
	BatchDelayMs  int                       `json:"batch_delay_ms,omitempty"`
}

type gradeEntryJSON struct {
	Grade            string                                     `json:"grade,omitempty"`
	Comment          string                                     `json:"comment,omitempty"`
	RubricAssessment map[string]canvasapi.RubricAssessmentEntry `json:"rubric_assessment,omitempty"`
}

func (d *dispatcher) bulkGrade(ctx context.Context, _ *mcp.CallToolRequest, in bulkGradeInput) (*mcp.CallToolResult, toolOutput, error) {
	ctx = withRequestID(ctx)
	if len(in.Grades) == 0 {
		result, _ := respond(nil, gwerr.New(gwerr.Validation, "grades must contain at least one entry"))
		return nil, toolOutput{Result: result}, nil
	}

	courseID, err := d.deps.Cache.ResolveToID(ctx, in.CourseID)
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	maxConcurrent := in.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	batchDelay := time.Duration(in.BatchDelayMs) * time.Millisecond

	d.deps.Logger.Info("bulk grade requested", "users", len(in.Grades), "dry_run", in.DryRun)

	entries := make(map[string]grader.GradeEntry, len(in.Grades))
	for userID, g := range in.Grades {
		entries[userID] = grader.GradeEntry{
			Grade:            g.Grade,
			Comment:          g.Comment,
			RubricAssessment: g.RubricAssessment,
		}
	}

	report, err := d.deps.Grader.BulkGrade(ctx, courseID, in.AssignmentID, entries, in.DryRun, maxConcurrent, batchDelay)
	result, _ := respond(report, err)
	return nil, toolOutput{Result: result}, nil
}

// ---- canvas.upload_file ----

type uploadFileInput struct {
	CourseID    string `json:"course_id"`
	FilePath    string `json:"file_path"`
	OnDuplicate string `json:"on_duplicate,omitempty"`
}

func (d *dispatcher) uploadFile(ctx context.Context, _ *mcp.CallToolRequest, in uploadFileInput) (*mcp.CallToolResult, toolOutput, error) {
	ctx = withRequestID(ctx)
	coerced, err := validate.CoerceAll([]validate.Param{
		{Name: "course_id", Raw: rawString(in.CourseID), Declared: validate.TypeString, Required: true},
		{Name: "file_path", Raw: rawString(in.FilePath), Declared: validate.TypeString, Required: true},
	})
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	courseID, err := d.deps.Cache.ResolveToID(ctx, coerced["course_id"].(string))
	if err != nil {
		result, _ := respond(nil, err)
		return nil, toolOutput{Result: result}, nil
	}

	record, err := d.deps.Uploader.UploadToCourse(ctx, courseID, coerced["file_path"].(string), upload.Options{
		OnDuplicate: in.OnDuplicate,
	})
	result, _ := respond(record, err)
	return nil, toolOutput{Result: result}, nil
}
