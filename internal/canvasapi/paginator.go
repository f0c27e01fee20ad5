package canvasapi

import (
	"context"
	"net/url"
	"strconv"

	"github.com/instructure-oss/canvas-mcp-server/internal/anonymize"
	"github.com/instructure-oss/canvas-mcp-server/internal/audit"
	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
)

const defaultPerPage = 100

// Paginator walks Canvas page-number pagination until a short page
// or an error, anonymizing the concatenated result exactly once.
type Paginator struct {
	gateway *Gateway
}

// NewPaginator builds a Paginator over the given Gateway.
func NewPaginator(gateway *Gateway) *Paginator {
	return &Paginator{gateway: gateway}
}

// Paginate walks endpoint from page 1, concatenating results until a
// page comes back empty or shorter than per_page, the only two
// termination conditions the pagination contract names. It never
// depends on a Link response header: Canvas page-number pagination is
// driven entirely by the requested page number incrementing by one
// each round trip. Every page request sets SkipAnonymize so the
// gateway never anonymizes per page; this call anonymizes the
// assembled list exactly once at the end if the endpoint is
// student-bearing and anonymization is enabled.
func (p *Paginator) Paginate(ctx context.Context, endpoint string, query url.Values, anonymizeEnabled bool, pseudonyms *anonymize.Pseudonymizer) ([]any, error) {
	if query == nil {
		query = url.Values{}
	} else {
		query = cloneValues(query)
	}
	perPage := defaultPerPage
	if v := query.Get("per_page"); v == "" {
		query.Set("per_page", strconv.Itoa(defaultPerPage))
	} else if n, err := strconv.Atoi(v); err == nil && n > 0 {
		perPage = n
	}

	var all []any

	for page := 1; ; page++ {
		pageQuery := cloneValues(query)
		pageQuery.Set("page", strconv.Itoa(page))

		value, err := p.gateway.Request(ctx, RequestOptions{
			Method:        "GET",
			Endpoint:      endpoint,
			Query:         pageQuery,
			SkipAnonymize: true,
		})
		if err != nil {
			return nil, err
		}

		records, _ := value.([]any)
		all = append(all, records...)

		if len(records) == 0 || len(records) < perPage {
			break
		}
	}

	if anonymizeEnabled && anonymize.IsStudentBearing(endpoint) {
		if pseudonyms == nil {
			pseudonyms = anonymize.NewPseudonymizer()
		}
		anonymized, err := anonymize.Anonymize(all, pseudonyms)
		if err != nil {
			sanitizedPath := audit.SanitizeEndpoint(endpoint)
			p.gateway.logger.Error("anonymization failed on student-bearing endpoint, aborting", "endpoint", sanitizedPath, "error", err)
			p.gateway.auditError(audit.RequestIDFromContext(ctx), "GET", sanitizedPath, "anonymization-error")
			return nil, gwerr.Wrap(gwerr.Anonymization, "failed to anonymize student-bearing response", err)
		}
		all, _ = anonymized.([]any)
	}

	return all, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		copied := make([]string, len(vals))
		copy(copied, vals)
		out[k] = copied
	}
	return out
}
