// Package airtable lists records from the Airtable REST API.
//
// The client follows the offset cursor until every page has been read and
// throttles requests with a token bucket, since Airtable allows five requests
// per second per base. Failed requests are returned to the caller as is.
package airtable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"golang.org/x/time/rate"

	"airtablecollector/models"
)

const (
	// DefaultBaseURL is the root of the Airtable REST API
	DefaultBaseURL = "https://api.airtable.com/v0"
	// DefaultRateLimit is Airtable's per-base request budget
	DefaultRateLimit = 5
	// MaxPageSize is the largest page the API serves
	MaxPageSize = 100
	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second
)

// Client talks to a single Airtable base
type Client struct {
	baseURL    string
	baseID     string
	apiKey     string
	pageSize   int
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API root
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
// The client is used as is; WithTimeout does not modify it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit caps requests per second. Zero or less disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithPageSize sets how many records each request asks for
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= MaxPageSize {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the given base authenticated with apiKey
func NewClient(baseID, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		baseID:   baseID,
		apiKey:   apiKey,
		pageSize: MaxPageSize,
		timeout:  DefaultTimeout,
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// ListRecords returns every record of tableID in the order the API returns them
func (c *Client) ListRecords(ctx context.Context, tableID string, opts models.ListOptions) ([]models.Record, error) {
	if tableID == "" {
		return nil, fmt.Errorf("table id is required")
	}

	var records []models.Record
	offset := ""
	for pageNum := 1; ; pageNum++ {
		page, err := c.fetchPage(ctx, tableID, opts, offset)
		if err != nil {
			return nil, fmt.Errorf("error listing records of %s (page %d): %w", tableID, pageNum, err)
		}

		c.logger.Debug("Fetched page",
			slog.String("table_id", tableID),
			slog.Int("page", pageNum),
			slog.Int("record_count", len(page.Records)))

		records = append(records, page.Records...)
		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, tableID string, opts models.ListOptions, offset string) (*listPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(tableID, opts, offset), nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var page listPage
	if err := easyjson.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return &page, nil
}

func (c *Client) pageURL(tableID string, opts models.ListOptions, offset string) string {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	if offset != "" {
		q.Set("offset", offset)
	}
	if opts.View != "" {
		q.Set("view", opts.View)
	}
	if opts.FilterByFormula != "" {
		q.Set("filterByFormula", opts.FilterByFormula)
	}
	for _, f := range opts.Fields {
		q.Add("fields[]", f)
	}
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(tableID), q.Encode())
}

// listPage is one response of the list records endpoint
type listPage struct {
	Records []models.Record
	Offset  string
}

// UnmarshalEasyJSON implements easyjson.Unmarshaler
func (p *listPage) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "records":
			in.Delim('[')
			for !in.IsDelim(']') {
				var rec models.Record
				rec.UnmarshalEasyJSON(in)
				p.Records = append(p.Records, rec)
				in.WantComma()
			}
			in.Delim(']')
		case "offset":
			p.Offset = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}
