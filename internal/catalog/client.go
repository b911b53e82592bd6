package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/robert-malhotra/burnmap/internal/apperr"
)

// SearchParams describes one catalog query.
type SearchParams struct {
	BBox         []float64 // [west, south, east, north]
	Start        time.Time
	End          time.Time
	CloudCoverLT float64 // zero disables the filter
}

// Searcher returns every catalog item matching params.
type Searcher interface {
	Search(ctx context.Context, params SearchParams) ([]Item, error)
}

// SortbyItem represents a single sort criterion
type SortbyItem struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// SearchRequest is the body of a STAC API POST /search.
type SearchRequest struct {
	Collections []string                  `json:"collections,omitempty"`
	BBox        []float64                 `json:"bbox,omitempty"`
	DateTime    string                    `json:"datetime,omitempty"`
	Limit       int                       `json:"limit,omitempty"`
	Query       map[string]map[string]any `json:"query,omitempty"`
	Sortby      []SortbyItem              `json:"sortby,omitempty"`
}

// searchLink is a link of a search response. Paging links carry the
// method and body of the follow-up request.
type searchLink struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Merge  bool            `json:"merge,omitempty"`
}

// searchPage is one page of a STAC ItemCollection.
type searchPage struct {
	Type     string       `json:"type"`
	Features []*STACItem  `json:"features"`
	Links    []searchLink `json:"links"`
}

// Client handles communication with a STAC API.
type Client struct {
	baseURL    string
	collection string
	pageLimit  int
	maxItems   int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new STAC API client for one collection.
func NewClient(baseURL, collection string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		pageLimit:  100,
		maxItems:   1000,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithPaging sets the page size and the maximum number of items collected
// across pages.
func (c *Client) WithPaging(pageLimit, maxItems int) *Client {
	c.pageLimit = pageLimit
	c.maxItems = maxItems
	return c
}

// BuildRequest translates params into a STAC search body.
func (c *Client) BuildRequest(params SearchParams) *SearchRequest {
	req := &SearchRequest{
		Collections: []string{c.collection},
		BBox:        params.BBox,
		DateTime:    FormatInterval(params.Start, params.End),
		Limit:       c.pageLimit,
		Sortby:      []SortbyItem{{Field: "properties.datetime", Direction: "asc"}},
	}
	if params.CloudCoverLT > 0 {
		req.Query = map[string]map[string]any{
			"eo:cloud_cover": {"lt": params.CloudCoverLT},
		}
	}
	return req
}

// Search runs an item search and follows next links until the catalog is
// exhausted or the item cap is reached.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]Item, error) {
	body, err := json.Marshal(c.BuildRequest(params))
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	c.logger.DebugContext(ctx, "executing STAC search",
		slog.String("collection", c.collection),
		slog.String("datetime", FormatInterval(params.Start, params.End)),
	)

	var (
		items []Item
		link  = &searchLink{Href: c.baseURL + "/search", Method: http.MethodPost, Body: body}
	)
	for pages := 0; link != nil; pages++ {
		page, err := c.fetch(ctx, link)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Features {
			it, err := NewItem(raw)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping catalog item",
					slog.String("error", err.Error()),
				)
				continue
			}
			items = append(items, it)
		}

		if len(items) >= c.maxItems {
			items = items[:c.maxItems]
			c.logger.WarnContext(ctx, "STAC search truncated",
				slog.Int("max_items", c.maxItems),
			)
			break
		}
		if len(page.Features) == 0 {
			break
		}
		link = nextLink(page.Links, link)
	}

	c.logger.DebugContext(ctx, "STAC search completed",
		slog.Int("item_count", len(items)),
	)
	return items, nil
}

func (c *Client) fetch(ctx context.Context, link *searchLink) (*searchPage, error) {
	method := link.Method
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if method == http.MethodPost {
		reqBody = bytes.NewReader(link.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, link.Href, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", "burnmap/1.0")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "STAC API request failed",
			slog.String("error", err.Error()),
			slog.String("url", link.Href),
		)
		return nil, fmt.Errorf("STAC API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.ErrorContext(ctx, "STAC API returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)),
		)
		return nil, fmt.Errorf("%w: STAC API returned status %d: %s",
			apperr.ErrDataAvailability, resp.StatusCode, string(body))
	}

	var page searchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode STAC response: %w", err)
	}
	return &page, nil
}

// nextLink returns the follow-up request advertised by a page, or nil.
// A merge link overlays its body onto the previous request body.
func nextLink(links []searchLink, prev *searchLink) *searchLink {
	for _, l := range links {
		if l.Rel != "next" || l.Href == "" {
			continue
		}
		next := l
		if next.Method == "" {
			next.Method = http.MethodGet
		}
		if next.Method == http.MethodPost && next.Merge && len(prev.Body) > 0 {
			next.Body = mergeBodies(prev.Body, next.Body)
		}
		return &next
	}
	return nil
}

func mergeBodies(base, overlay json.RawMessage) json.RawMessage {
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return overlay
	}
	var extra map[string]any
	if err := json.Unmarshal(overlay, &extra); err != nil {
		return base
	}
	for k, v := range extra {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return base
	}
	return out
}
