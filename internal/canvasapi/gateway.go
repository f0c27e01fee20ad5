package canvasapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/instructure-oss/canvas-mcp-server/internal/anonymize"
	"github.com/instructure-oss/canvas-mcp-server/internal/audit"
	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
)

// Gateway is the single entry point for every Canvas HTTP call: it
// attaches auth, retries 429s, parses the body, routes student-bearing
// responses through the Anonymizer, and emits an audit event for
// every round trip, success or failure, without ever logging a
// response body or raw exception message.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string

	rateLimiter *RateLimiter
	retryPolicy *RetryPolicy
	audit       *audit.Logger
	pseudonyms  *anonymize.Pseudonymizer

	anonymizeEnabled bool
	anonymizeDebug   bool
	logRequests      bool
	logger           *slog.Logger
}

// GatewayConfig configures a new Gateway.
type GatewayConfig struct {
	BaseURL          string
	Token            string
	UserAgent        string
	Timeout          time.Duration
	RateLimiter      *RateLimiter
	Audit            *audit.Logger
	Pseudonyms       *anonymize.Pseudonymizer
	AnonymizeEnabled bool
	AnonymizeDebug   bool
	LogRequests      bool
	Logger           *slog.Logger
}

// NewGateway constructs a Gateway ready to make authenticated Canvas
// requests.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "canvas-mcp-server"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AnonymizeEnabled && cfg.Pseudonyms == nil {
		cfg.Pseudonyms = anonymize.NewPseudonymizer()
	}

	return &Gateway{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		token:            cfg.Token,
		userAgent:        cfg.UserAgent,
		rateLimiter:      cfg.RateLimiter,
		retryPolicy:      DefaultRetryPolicy(cfg.Logger),
		audit:            cfg.Audit,
		pseudonyms:       cfg.Pseudonyms,
		anonymizeEnabled: cfg.AnonymizeEnabled,
		anonymizeDebug:   cfg.AnonymizeDebug,
		logRequests:      cfg.LogRequests,
		logger:           cfg.Logger,
	}
}

// RequestOptions configures one Gateway.Request call.
type RequestOptions struct {
	Method        string
	Endpoint      string
	Query         url.Values
	Body          any // JSON-encoded unless FormEncoded is set, in which case must be url.Values
	FormEncoded   bool
	SkipAnonymize bool
	RequestID     string
}

// Request performs one authenticated Canvas round trip and returns
// the parsed JSON body, optionally anonymized.
func (g *Gateway) Request(ctx context.Context, opts RequestOptions) (any, error) {
	fullURL := g.baseURL + opts.Endpoint
	if len(opts.Query) > 0 {
		fullURL += "?" + opts.Query.Encode()
	}

	// The body is held as bytes, not a reader: a 429 retry re-sends the
	// request, and a shared reader would arrive drained on the second
	// attempt.
	var bodyBytes []byte
	contentType := "application/json"
	if opts.Body != nil {
		if opts.FormEncoded {
			values, ok := opts.Body.(url.Values)
			if !ok {
				return nil, gwerr.New(gwerr.Validation, "form-encoded body must be url.Values")
			}
			bodyBytes = []byte(values.Encode())
			contentType = "application/x-www-form-urlencoded"
		} else {
			payload, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, gwerr.Wrap(gwerr.Validation, "failed to marshal request body", err)
			}
			bodyBytes = payload
		}
	}

	if opts.RequestID == "" {
		opts.RequestID = audit.RequestIDFromContext(ctx)
	}

	if g.rateLimiter != nil {
		if err := g.rateLimiter.Wait(ctx); err != nil {
			return nil, gwerr.Wrap(gwerr.Timeout, "rate limiter wait failed", err)
		}
		g.rateLimiter.RecoverIfQuiet(time.Now())
	}

	sanitizedPath := audit.SanitizeEndpoint(opts.Endpoint)
	if g.logRequests {
		g.logger.Debug("canvas request", "method", opts.Method, "endpoint", sanitizedPath)
	}

	resp, err := g.retryPolicy.ExecuteWithRetry(ctx, func() (*http.Response, error) {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, opts.Method, fullURL, bodyReader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+g.token)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", g.userAgent)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests && g.rateLimiter != nil {
			g.rateLimiter.Notify429()
		}
		return resp, nil
	})

	if err != nil {
		tag, code := classifyNetErr(err)
		g.auditError(opts.RequestID, opts.Method, sanitizedPath, tag)
		return nil, gwerr.Wrap(code, "Canvas request failed", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		g.auditError(opts.RequestID, opts.Method, sanitizedPath, "read-error")
		return nil, gwerr.Wrap(gwerr.Network, "failed to read Canvas response", readErr)
	}

	if resp.StatusCode >= 400 {
		code := gwerr.FromHTTPStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			// Final failure after the retry budget is exhausted is a
			// canvas-api envelope, not rate-limited: rate-limited is
			// reserved for a 429 that was never retried at all.
			code = gwerr.CanvasAPI
		}
		g.auditError(opts.RequestID, opts.Method, sanitizedPath, fmt.Sprintf("%d", resp.StatusCode))
		return nil, buildAPIError(code, resp.StatusCode, respBody)
	}

	var parsed any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			g.auditError(opts.RequestID, opts.Method, sanitizedPath, "decode-error")
			return nil, gwerr.Wrap(gwerr.CanvasAPI, "failed to decode Canvas response", err)
		}
	}

	if g.anonymizeEnabled && !opts.SkipAnonymize && anonymize.IsStudentBearing(opts.Endpoint) {
		anonymized, anonErr := anonymize.Anonymize(parsed, g.pseudonyms)
		if anonErr != nil {
			g.logger.Error("anonymization failed on student-bearing endpoint, aborting", "endpoint", sanitizedPath, "error", anonErr)
			g.auditError(opts.RequestID, opts.Method, sanitizedPath, "anonymization-error")
			return nil, gwerr.Wrap(gwerr.Anonymization, "failed to anonymize student-bearing response", anonErr)
		}
		parsed = anonymized
		if g.anonymizeDebug && g.pseudonyms != nil {
			g.logger.Debug("anonymized response", "endpoint", sanitizedPath, "pseudonyms_cached", g.pseudonyms.Len())
		}
	}

	g.auditSuccess(opts.RequestID, opts.Method, sanitizedPath)
	return parsed, nil
}

func (g *Gateway) auditSuccess(requestID, method, path string) {
	if g.audit == nil {
		return
	}
	g.audit.LogDataAccess(audit.DataAccessEvent{
		RequestID: requestID,
		Method:    method,
		Endpoint:  path,
		Status:    "success",
	})
}

func (g *Gateway) auditError(requestID, method, path, tag string) {
	if g.audit == nil {
		return
	}
	g.audit.LogDataAccess(audit.DataAccessEvent{
		RequestID: requestID,
		Method:    method,
		Endpoint:  path,
		Status:    "error",
		ErrorTag:  tag,
	})
}

func classifyNetErr(err error) (string, gwerr.Code) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout", gwerr.Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", gwerr.Timeout
	}
	return "network-error", gwerr.Network
}

type canvasErrorBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func buildAPIError(code gwerr.Code, status int, body []byte) error {
	msg := fmt.Sprintf("Canvas API returned HTTP %d", status)
	var parsed canvasErrorBody
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		msg = parsed.Errors[0].Message
	}
	gerr := &gwerr.Error{Code: code, Message: msg, StatusCode: status}
	switch status {
	case http.StatusUnauthorized:
		gerr = gerr.WithSuggestion("check CANVAS_API_TOKEN")
	case http.StatusForbidden:
		gerr = gerr.WithSuggestion("the token's user lacks permission for this endpoint")
	case http.StatusNotFound:
		gerr = gerr.WithSuggestion("verify the course/user/assignment identifier")
	case http.StatusTooManyRequests:
		gerr = gerr.WithSuggestion("retries were exhausted; back off and try again later")
	}
	return gerr
}
