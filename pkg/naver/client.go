// Package naver is a client for the Naver Search open API (blog and news).
package naver

import (
	"context"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/internal/resilience"
)

const (
	defaultBaseURL = "https://openapi.naver.com"
	providerName   = "naver"
)

// Kind selects the search vertical.
type Kind string

const (
	KindBlog Kind = "blog"
	KindNews Kind = "news"
)

// Client performs Naver Search operations.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is the query for GET /v1/search/{kind}.json.
type SearchRequest struct {
	Kind    Kind
	Query   string
	Display int
	Start   int
	// Sort is "sim" (relevance) or "date".
	Sort string
}

// SearchResponse is the search result page.
type SearchResponse struct {
	LastBuildDate string `json:"lastBuildDate"`
	Total         int    `json:"total"`
	Start         int    `json:"start"`
	Display       int    `json:"display"`
	Items         []Item `json:"items"`
}

// Item is a single hit. Title and Description arrive with <b> highlight
// markup; the client strips it.
type Item struct {
	Title        string `json:"title"`
	Link         string `json:"link"`
	OriginalLink string `json:"originallink,omitempty"`
	Description  string `json:"description"`
	BloggerName  string `json:"bloggername,omitempty"`
	PostDate     string `json:"postdate,omitempty"`
	PubDate      string `json:"pubDate,omitempty"`
}

// Text joins title and description for extraction.
func (i Item) Text() string {
	return i.Title + " " + i.Description
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

type httpClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	http         *http.Client
}

// NewClient creates a Naver Search API client.
func NewClient(clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Kind == "" {
		req.Kind = KindBlog
	}
	if req.Display <= 0 || req.Display > 100 {
		req.Display = 10
	}
	if req.Start <= 0 {
		req.Start = 1
	}
	if req.Sort == "" {
		req.Sort = "sim"
	}

	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("display", strconv.Itoa(req.Display))
	params.Set("start", strconv.Itoa(req.Start))
	params.Set("sort", req.Sort)

	endpoint := c.baseURL + "/v1/search/" + string(req.Kind) + ".json?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "naver: create request")
	}
	httpReq.Header.Set("X-Naver-Client-Id", c.clientID)
	httpReq.Header.Set("X-Naver-Client-Secret", c.clientSecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "naver: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "naver: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromStatus(providerName, resp.StatusCode, resp.Header.Get("Retry-After"), string(respBody))
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "naver: unmarshal response")
	}
	for i := range result.Items {
		result.Items[i].Title = StripMarkup(result.Items[i].Title)
		result.Items[i].Description = StripMarkup(result.Items[i].Description)
	}

	return &result, nil
}

var tagRe = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// StripMarkup removes highlight tags and unescapes HTML entities.
func StripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}
