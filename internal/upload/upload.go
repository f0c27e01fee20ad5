// Package upload implements Canvas's three-round-trip file upload
// protocol: request an upload slot, POST the bytes to external storage
// without the bearer token, then confirm via redirect if needed.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/instructure-oss/canvas-mcp-server/internal/canvasapi"
	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
)

const defaultMaxSize = 100 * 1024 * 1024 // 100 MiB

// allowedExtensions is a conservative allowlist spanning documents, code,
// images, common archives, and common media.
var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".json": "application/json",
	".xml":  "application/xml",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".js":   "text/javascript",
	".ts":   "text/typescript",
	".java": "text/x-java-source",
	".c":    "text/x-csrc",
	".cpp":  "text/x-c++src",
	".sh":   "application/x-sh",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".wav":  "audio/wav",
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)
var runsOfUnderscore = regexp.MustCompile(`_+`)

const maxStemLength = 200

// Record is the file record Canvas returns once an upload is confirmed.
type Record struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content-type"`
}

// Options configures one upload.
type Options struct {
	ParentFolderPath string
	OnDuplicate      string // "rename" or "overwrite"
	MaxSizeBytes     int64  // 0 uses the default 100 MiB cap
}

// Orchestrator drives the three-step Canvas upload protocol against one
// target endpoint: a course's files or a folder's files. Uploads to a
// user's files are not supported.
type Orchestrator struct {
	gateway    *canvasapi.Gateway
	httpClient *http.Client
	baseURL    string
	token      string
}

func New(gateway *canvasapi.Gateway, baseURL, token string) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
}

// UploadToCourse uploads localPath to a course's files.
func (o *Orchestrator) UploadToCourse(ctx context.Context, courseID, localPath string, opts Options) (*Record, error) {
	return o.upload(ctx, fmt.Sprintf("/courses/%s/files", courseID), localPath, opts)
}

// UploadToFolder uploads localPath into a specific folder.
func (o *Orchestrator) UploadToFolder(ctx context.Context, folderID, localPath string, opts Options) (*Record, error) {
	return o.upload(ctx, fmt.Sprintf("/folders/%s/files", folderID), localPath, opts)
}

func (o *Orchestrator) upload(ctx context.Context, slotEndpoint, localPath string, opts Options) (*Record, error) {
	f, size, err := validateLocalFile(localPath, opts.MaxSizeBytes)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(localPath))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("file extension %q is not in the allowed list", ext)).
			WithSuggestion("upload a document, code, image, archive, or media file with a recognized extension")
	}

	name := sanitizeFilename(filepath.Base(localPath))

	// Step 1: request an upload slot.
	slotBody := url.Values{}
	slotBody.Set("name", name)
	slotBody.Set("size", strconv.FormatInt(size, 10))
	slotBody.Set("content_type", contentType)
	if opts.ParentFolderPath != "" {
		slotBody.Set("parent_folder_path", opts.ParentFolderPath)
	}
	if opts.OnDuplicate != "" {
		slotBody.Set("on_duplicate", opts.OnDuplicate)
	}

	slotResult, err := o.gateway.Request(ctx, canvasapi.RequestOptions{
		Method:        "POST",
		Endpoint:      slotEndpoint,
		Body:          slotBody,
		FormEncoded:   true,
		SkipAnonymize: true,
	})
	if err != nil {
		return nil, err
	}

	slot, ok := slotResult.(map[string]any)
	if !ok {
		return nil, gwerr.New(gwerr.CanvasAPI, "unexpected upload-slot response shape")
	}
	uploadURL, _ := slot["upload_url"].(string)
	uploadParams, _ := slot["upload_params"].(map[string]any)
	if uploadURL == "" {
		return nil, gwerr.New(gwerr.CanvasAPI, "upload slot response missing upload_url")
	}

	// Step 2: POST the file bytes to external storage, without the bearer token.
	resp, err := o.postMultipart(ctx, uploadURL, uploadParams, name, f)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Network, "failed to upload file contents", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var rec Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return nil, gwerr.Wrap(gwerr.CanvasAPI, "failed to parse upload response", err)
		}
		return &rec, nil

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Step 3: confirm via the authenticated Canvas client.
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, gwerr.New(gwerr.CanvasAPI, "upload redirect missing Location header")
		}
		return o.confirm(ctx, location)

	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, gwerr.New(gwerr.CanvasAPI, fmt.Sprintf("upload failed with status %d", resp.StatusCode)).
			WithDetail("body_length", len(body))
	}
}

func (o *Orchestrator) postMultipart(ctx context.Context, uploadURL string, params map[string]any, fileName string, f *os.File) (*http.Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, value := range params {
		if err := writer.WriteField(key, stringify(value)); err != nil {
			return nil, err
		}
	}

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	// Deliberately no Authorization header: the storage URL is third-party.

	return o.httpClient.Do(req)
}

func (o *Orchestrator) confirm(ctx context.Context, location string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", location, nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Network, "failed to build confirmation request", err)
	}
	if isCanvasDomain(location, o.baseURL) {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Network, "failed to confirm upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, gwerr.New(gwerr.CanvasAPI, fmt.Sprintf("upload confirmation failed with status %d", resp.StatusCode))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, gwerr.Wrap(gwerr.CanvasAPI, "failed to parse confirmation response", err)
	}
	return &rec, nil
}

// isCanvasDomain prevents leaking the bearer token to third-party storage.
func isCanvasDomain(redirectURL, baseURL string) bool {
	r, err := url.Parse(redirectURL)
	if err != nil {
		return false
	}
	b, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return r.Host == b.Host
}

func validateLocalFile(path string, maxSize int64) (*os.File, int64, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, gwerr.Wrap(gwerr.Validation, "file does not exist or is not accessible", err)
	}
	if info.IsDir() {
		return nil, 0, gwerr.New(gwerr.Validation, "path is a directory, not a file")
	}
	if info.Size() == 0 {
		return nil, 0, gwerr.New(gwerr.Validation, "file is empty")
	}
	if info.Size() > maxSize {
		return nil, 0, gwerr.New(gwerr.Validation, fmt.Sprintf("file exceeds the %d byte size cap", maxSize))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, gwerr.Wrap(gwerr.Validation, "file is not readable", err)
	}
	return f, info.Size(), nil
}

// sanitizeFilename replaces non-alphanumerics with underscores, collapses
// runs of underscores, trims them from the ends, and caps the stem length.
func sanitizeFilename(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	stem = nonAlnum.ReplaceAllString(stem, "_")
	stem = runsOfUnderscore.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "_")

	if len(stem) > maxStemLength {
		stem = stem[:maxStemLength]
	}
	if stem == "" {
		stem = "file"
	}
	return stem + ext
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
