package narou

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const BaseURL = "https://api.syosetu.com/"

const userAgent = "ApiClient/1.0 (+Narou Go Client) - Narou analyzer"

// RankedNovel is one entry of a ranking response. The first element of
// every response is a header record carrying only AllCount; real works
// start at index 1.
type RankedNovel struct {
	AllCount int    `json:"allcount,omitempty"`
	Ncode    string `json:"ncode"`
	Title    string `json:"title"`
	Story    string `json:"story"`
	Keyword  string `json:"keyword"`
	Genre    int    `json:"genre"`
}

// Client interface for the Narou novel API.
type Client interface {
	Ranking(ctx context.Context, period, category string, size int) ([]RankedNovel, error)
	Novel(ctx context.Context, ncode string) ([]RankedNovel, error)
}

type httpClient struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a Narou API client with the given HTTP client.
func NewClient(client *http.Client) Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpClient{
		client:  client,
		baseURL: BaseURL,
	}
}

// NewClientWithBaseURL creates a Narou API client with a custom base URL (for testing).
func NewClientWithBaseURL(client *http.Client, baseURL string) Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpClient{
		client:  client,
		baseURL: baseURL,
	}
}

// Ranking fetches the ranking ordered by <period>points for the given
// novel category, limited to size entries. The returned slice includes
// the index-0 header record.
func (c *httpClient) Ranking(ctx context.Context, period, category string, size int) ([]RankedNovel, error) {
	endpoint := fmt.Sprintf("%snovelapi/api/?out=json&lim=%d&order=%spoints&type=%s",
		c.baseURL, size, url.QueryEscape(period), url.QueryEscape(category))
	return c.fetch(ctx, endpoint)
}

// Novel fetches a single work by its ncode. The API returns the same
// header-plus-entries shape as Ranking, with at most one entry.
func (c *httpClient) Novel(ctx context.Context, ncode string) ([]RankedNovel, error) {
	endpoint := fmt.Sprintf("%snovelapi/api/?out=json&ncode=%s", c.baseURL, url.QueryEscape(ncode))
	return c.fetch(ctx, endpoint)
}

func (c *httpClient) fetch(ctx context.Context, endpoint string) ([]RankedNovel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating ranking request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("narou api returned status %d", resp.StatusCode)
	}

	var novels []RankedNovel
	if err := json.NewDecoder(resp.Body).Decode(&novels); err != nil {
		return nil, fmt.Errorf("decoding narou response: %w", err)
	}

	return novels, nil
}
