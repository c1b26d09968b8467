// Package culture is a client for the public culture-information exhibition
// feed. The feed is paged and returns structured dates as YYYYMMDD strings.
package culture

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/internal/resilience"
)

const (
	defaultBaseURL = "https://api.kcisa.kr/openapi"
	providerName   = "culture"
	feedDateLayout = "20060102"
)

// Client reads the exhibition feed.
type Client interface {
	ListExhibitions(ctx context.Context, page, perPage int) (*ListResponse, error)
}

// ListResponse is one page of the feed.
type ListResponse struct {
	TotalCount int    `json:"totalCount"`
	Page       int    `json:"page"`
	PerPage    int    `json:"perPage"`
	Items      []Item `json:"items"`
}

// HasMore reports whether another page follows.
func (r *ListResponse) HasMore() bool {
	return r.Page*r.PerPage < r.TotalCount && len(r.Items) > 0
}

// Item is one exhibition listing.
type Item struct {
	Seq         string `json:"seq"`
	Title       string `json:"title"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Place       string `json:"place"`
	Area        string `json:"area"`
	Realm       string `json:"realmName"`
	Thumbnail   string `json:"thumbnail"`
	URL         string `json:"url"`
	Price       string `json:"price"`
	Description string `json:"description"`
}

// Dates parses StartDate/EndDate. ok is false if either is missing or
// malformed.
func (i Item) Dates(loc *time.Location) (start, end time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	s, err := time.ParseInLocation(feedDateLayout, i.StartDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	e, err := time.ParseInLocation(feedDateLayout, i.EndDate, loc)
	if err != nil || e.Before(s) {
		return time.Time{}, time.Time{}, false
	}
	return s, e, true
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRealm restricts the feed to one realm code (e.g. "D000" for
// exhibitions).
func WithRealm(code string) Option {
	return func(c *httpClient) {
		c.realm = code
	}
}

type httpClient struct {
	serviceKey string
	baseURL    string
	realm      string
	http       *http.Client
}

// NewClient creates a feed client authenticated with a service key.
func NewClient(serviceKey string, opts ...Option) Client {
	c := &httpClient{
		serviceKey: serviceKey,
		baseURL:    defaultBaseURL,
		realm:      "D000",
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ListExhibitions(ctx context.Context, page, perPage int) (*ListResponse, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 100
	}
	params := url.Values{}
	params.Set("serviceKey", c.serviceKey)
	params.Set("page", strconv.Itoa(page))
	params.Set("perPage", strconv.Itoa(perPage))
	params.Set("type", "json")
	if c.realm != "" {
		params.Set("realmCode", c.realm)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/exhibitions?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "culture: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "culture: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "culture: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromStatus(providerName, resp.StatusCode, resp.Header.Get("Retry-After"), string(respBody))
	}

	var result ListResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "culture: unmarshal response")
	}
	if result.Page == 0 {
		result.Page = page
	}
	if result.PerPage == 0 {
		result.PerPage = perPage
	}
	return &result, nil
}
