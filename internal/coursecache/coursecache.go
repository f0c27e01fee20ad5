// Package coursecache maintains a bidirectional code<->id mapping for
// Canvas courses, populated lazily from a full course listing.
package coursecache

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/instructure-oss/canvas-mcp-server/internal/canvasapi"
	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
)

var allDigits = regexp.MustCompile(`^\d+$`)

const sisPrefix = "sis_course_id:"

// Cache holds the code<->id mapping for a Canvas account's courses.
//
// CACHE_TTL is honored: a refresh older than ttl is treated as empty and
// re-triggered on the next miss, rather than being an inert, unused knob.
type Cache struct {
	mu          sync.RWMutex
	codeToID    map[string]string
	idToCode    map[string]string
	lastRefresh time.Time
	ttl         time.Duration

	gateway *canvasapi.Gateway
	logger  *slog.Logger
}

// New creates an empty cache. ttl of zero disables staleness checks (the
// cache never refreshes once populated, except on explicit Refresh calls).
func New(gateway *canvasapi.Gateway, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		codeToID: make(map[string]string),
		idToCode: make(map[string]string),
		ttl:      ttl,
		gateway:  gateway,
		logger:   logger,
	}
}

// ResolveToID implements the five-step course identifier resolution
// algorithm: numeric passthrough, SIS-prefix passthrough, cached code
// lookup, refresh-on-miss, and SIS-prefix fallback.
func (c *Cache) ResolveToID(ctx context.Context, identifier string) (string, error) {
	if allDigits.MatchString(identifier) {
		return identifier, nil
	}
	if strings.HasPrefix(identifier, sisPrefix) {
		return identifier, nil
	}

	if id, ok := c.lookupCode(identifier); ok {
		return id, nil
	}

	if hasNonDigit(identifier) {
		if c.isStaleOrEmpty() {
			if err := c.Refresh(ctx); err != nil {
				return "", err
			}
		}
		if id, ok := c.lookupCode(identifier); ok {
			return id, nil
		}
		return sisPrefix + identifier, nil
	}

	return identifier, nil
}

// ResolveToCode returns the cached course code for a numeric course ID, or
// the ID itself if no code is known.
func (c *Cache) ResolveToCode(ctx context.Context, id string) (string, error) {
	c.mu.RLock()
	code, ok := c.idToCode[id]
	c.mu.RUnlock()
	if ok {
		return code, nil
	}

	if c.isStaleOrEmpty() {
		if err := c.Refresh(ctx); err != nil {
			return "", err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if code, ok := c.idToCode[id]; ok {
		return code, nil
	}
	return id, nil
}

// Refresh lists /courses exhaustively and repopulates both maps atomically.
// Concurrent callers may each trigger a refresh; the reference behavior
// accepts this stampede rather than single-flighting.
func (c *Cache) Refresh(ctx context.Context) error {
	paginator := canvasapi.NewPaginator(c.gateway)
	records, err := paginator.Paginate(ctx, "/courses", nil, false, nil)
	if err != nil {
		return gwerr.Wrap(gwerr.Cache, "failed to refresh course cache", err)
	}

	var courses []canvasapi.Course
	if err := canvasapi.Decode(records, &courses); err != nil {
		return gwerr.Wrap(gwerr.Cache, "unexpected course listing shape", err)
	}

	codeToID := make(map[string]string)
	idToCode := make(map[string]string)
	for _, course := range courses {
		if course.ID == 0 || course.CourseCode == "" {
			continue
		}
		id := strconv.FormatInt(course.ID, 10)
		codeToID[course.CourseCode] = id
		idToCode[id] = course.CourseCode
	}

	c.mu.Lock()
	c.codeToID = codeToID
	c.idToCode = idToCode
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	c.logger.Info("course cache refreshed", "courses", len(idToCode))
	return nil
}

func (c *Cache) lookupCode(code string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.codeToID[code]
	return id, ok
}

func (c *Cache) isStaleOrEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.codeToID) == 0 {
		return true
	}
	if c.ttl <= 0 {
		return false
	}
	return time.Since(c.lastRefresh) > c.ttl
}

func hasNonDigit(s string) bool {
	return !allDigits.MatchString(s)
}
