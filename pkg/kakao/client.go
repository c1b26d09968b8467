// Package kakao is a client for the Kakao Local keyword search API, used to
// look up venue addresses and coordinates.
package kakao

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
	defaultBaseURL = "https://dapi.kakao.com"
	providerName   = "kakao"
)

// Client performs Kakao Local operations.
type Client interface {
	KeywordSearch(ctx context.Context, query string, size int) (*KeywordSearchResponse, error)
}

// KeywordSearchResponse is the response from /v2/local/search/keyword.json.
type KeywordSearchResponse struct {
	Documents []Place `json:"documents"`
	Meta      Meta    `json:"meta"`
}

// Meta holds paging information.
type Meta struct {
	TotalCount int  `json:"total_count"`
	IsEnd      bool `json:"is_end"`
}

// Place is one search hit. Coordinates come back as strings.
type Place struct {
	ID                string `json:"id"`
	PlaceName         string `json:"place_name"`
	CategoryName      string `json:"category_name"`
	CategoryGroupCode string `json:"category_group_code"`
	Phone             string `json:"phone"`
	AddressName       string `json:"address_name"`
	RoadAddressName   string `json:"road_address_name"`
	X                 string `json:"x"`
	Y                 string `json:"y"`
	PlaceURL          string `json:"place_url"`
}

// Coordinates parses Y/X as latitude/longitude.
func (p Place) Coordinates() (lat, lng float64, ok bool) {
	lng, errX := strconv.ParseFloat(p.X, 64)
	lat, errY := strconv.ParseFloat(p.Y, 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// Address prefers the road address.
func (p Place) Address() string {
	if p.RoadAddressName != "" {
		return p.RoadAddressName
	}
	return p.AddressName
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
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Kakao Local API client authenticated with a REST key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) KeywordSearch(ctx context.Context, query string, size int) (*KeywordSearchResponse, error) {
	if size <= 0 || size > 15 {
		size = 5
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("size", strconv.Itoa(size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/local/search/keyword.json?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "kakao: create request")
	}
	req.Header.Set("Authorization", "KakaoAK "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "kakao: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "kakao: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromStatus(providerName, resp.StatusCode, resp.Header.Get("Retry-After"), string(respBody))
	}

	var result KeywordSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "kakao: unmarshal response")
	}

	return &result, nil
}
