package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

const BaseURL = "https://ncode.syosetu.com"

// Chapter pages reject default Go user agents.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"

// bodyMarkerClasses identify the element holding the chapter text on an
// episode page.
var bodyMarkerClasses = []string{"js-novel-text", "p-novel__text"}

// Fetcher retrieves the plain text of a single chapter of a work.
type Fetcher interface {
	ChapterText(ctx context.Context, ncode string, index int) (string, error)
}

type httpFetcher struct {
	client  *http.Client
	baseURL string
}

// NewFetcher creates a Fetcher with the given timeout for HTTP requests.
func NewFetcher(timeout time.Duration) Fetcher {
	return &httpFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: BaseURL,
	}
}

// NewFetcherWithBaseURL creates a Fetcher with a custom HTTP client and base URL (for testing).
func NewFetcherWithBaseURL(client *http.Client, baseURL string) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpFetcher{
		client:  client,
		baseURL: baseURL,
	}
}

// ChapterText fetches the page for the given chapter of a work and
// extracts its body text. Extraction prefers the page's novel-body
// marker element; when the marker is absent it falls back to generic
// readability extraction. An empty result with nil error means the page
// carried no recognizable chapter text.
func (f *httpFetcher) ChapterText(ctx context.Context, ncode string, index int) (string, error) {
	pageURL := fmt.Sprintf("%s/%s/%d/", f.baseURL, strings.ToLower(ncode), index)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating chapter request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chapter page %s returned status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}

	text, err := ExtractBody(body)
	if err != nil {
		return "", fmt.Errorf("extracting chapter text from %s: %w", pageURL, err)
	}
	return text, nil
}

// ExtractBody parses an episode page and returns the chapter text. The
// element carrying all body marker classes wins; otherwise the page is
// handed to readability as a generic article.
func ExtractBody(page []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	if node := findByClasses(doc, bodyMarkerClasses); node != nil {
		return strings.TrimSpace(textContent(node)), nil
	}

	article, err := readability.FromReader(bytes.NewReader(page), nil)
	if err != nil {
		return "", fmt.Errorf("readability fallback: %w", err)
	}
	return strings.TrimSpace(article.TextContent), nil
}

// findByClasses returns the first element whose class attribute contains
// every wanted class.
func findByClasses(n *html.Node, want []string) *html.Node {
	if n.Type == html.ElementNode && hasClasses(n, want) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClasses(c, want); found != nil {
			return found
		}
	}
	return nil
}

func hasClasses(n *html.Node, want []string) bool {
	var classes []string
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			classes = strings.Fields(attr.Val)
			break
		}
	}
	if len(classes) == 0 {
		return false
	}
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// textContent collects the text nodes under n, inserting line breaks at
// <p> and <br> boundaries so paragraph structure survives extraction.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.Data == "br" || n.Data == "p") {
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
