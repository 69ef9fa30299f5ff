// Package platform talks to the publishing platform: account search, the
// paged article listing API and light scraping of article pages for the
// metadata the listing does not carry.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

const (
	searchPath = "/cgi-bin/searchbiz"
	listPath   = "/cgi-bin/appmsg"
)

var (
	bizFromURL  = regexp.MustCompile(`__biz=([^&]+)`)
	bizFromPage = []*regexp.Regexp{
		regexp.MustCompile(`var\s+biz\s*=\s*"([^"]+)"`),
		regexp.MustCompile(`"biz"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`__biz=([^&"\\]+)`),
	}
)

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	log        logger.Logger
}

func NewClient(baseURL, userAgent string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// SearchAccount resolves an account nickname to its platform-internal
// account id via the search endpoint. The first match wins.
func (c *Client) SearchAccount(ctx context.Context, auth Auth, nickname string) (string, failure.ClassifiedError) {
	params := url.Values{
		"action": {"search_biz"},
		"token":  {auth.Token},
		"lang":   {"zh_CN"},
		"f":      {"json"},
		"ajax":   {"1"},
		"query":  {nickname},
		"begin":  {"0"},
		"count":  {"3"},
	}

	body, err := c.apiGet(ctx, auth, searchPath, params)
	if err != nil {
		return "", err
	}

	var resp searchResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		return "", &PlatformError{
			Message:   fmt.Sprintf("search response is not JSON: %v", jsonErr),
			Retryable: false,
			Cause:     ErrCauseBadResponse,
		}
	}
	if err := classifyRet(resp.BaseResp); err != nil {
		return "", err
	}

	if len(resp.List) == 0 {
		return "", &PlatformError{
			Message:   fmt.Sprintf("no account matches %q", nickname),
			Retryable: false,
			Cause:     ErrCauseAccountNotFound,
		}
	}

	match := resp.List[0]
	c.log.Debug("account resolved",
		logger.String("nickname", match.Nickname),
		logger.String("account_id", match.FakeID),
	)
	return match.FakeID, nil
}

// ListArticles fetches one page of the account's article listing, begin
// being the zero-based offset into the account's history, newest first.
func (c *Client) ListArticles(ctx context.Context, auth Auth, accountID string, begin, count int) ([]ArticleSummary, failure.ClassifiedError) {
	params := url.Values{
		"action": {"list_ex"},
		"token":  {auth.Token},
		"lang":   {"zh_CN"},
		"f":      {"json"},
		"ajax":   {"1"},
		"begin":  {strconv.Itoa(begin)},
		"count":  {strconv.Itoa(count)},
		"query":  {""},
		"fakeid": {accountID},
		// type 9 selects published rich-media articles
		"type": {"9"},
	}

	body, err := c.apiGet(ctx, auth, listPath, params)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		return nil, &PlatformError{
			Message:   fmt.Sprintf("listing response is not JSON: %v", jsonErr),
			Retryable: false,
			Cause:     ErrCauseBadResponse,
		}
	}
	if err := classifyRet(resp.BaseResp); err != nil {
		return nil, err
	}

	summaries := make([]ArticleSummary, 0, len(resp.AppMsgList))
	for _, msg := range resp.AppMsgList {
		summaries = append(summaries, ArticleSummary{
			title:       msg.Title,
			link:        msg.Link,
			digest:      msg.Digest,
			publishedAt: time.Unix(msg.CreateTime, 0).UTC(),
		})
	}
	return summaries, nil
}

// ArticleTitle scrapes an article page for its title, trying the og:title
// meta tag, the activity-name heading, then the document title.
func (c *Client) ArticleTitle(ctx context.Context, auth Auth, articleURL string) (string, failure.ClassifiedError) {
	body, err := c.pageGet(ctx, auth, articleURL)
	if err != nil {
		return "", err
	}

	doc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if parseErr != nil {
		return "", &PlatformError{
			Message:   fmt.Sprintf("article page does not parse: %v", parseErr),
			Retryable: false,
			Cause:     ErrCauseBadResponse,
		}
	}

	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && title != "" {
		return title, nil
	}
	if title := strings.TrimSpace(doc.Find("#activity-name").Text()); title != "" {
		return title, nil
	}
	return strings.TrimSpace(doc.Find("title").Text()), nil
}

// AccountFromArticleURL recovers the account id behind an article link. The
// __biz query parameter is authoritative when present; otherwise the page
// is scraped for the id, falling back to resolving the author name through
// search.
func (c *Client) AccountFromArticleURL(ctx context.Context, auth Auth, articleURL string) (string, failure.ClassifiedError) {
	if m := bizFromURL.FindStringSubmatch(articleURL); m != nil {
		return m[1], nil
	}

	body, err := c.pageGet(ctx, auth, articleURL)
	if err != nil {
		return "", err
	}

	html := string(body)
	for _, pattern := range bizFromPage {
		if m := pattern.FindStringSubmatch(html); m != nil {
			return m[1], nil
		}
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if parseErr != nil {
		return "", &PlatformError{
			Message:   fmt.Sprintf("article page does not parse: %v", parseErr),
			Retryable: false,
			Cause:     ErrCauseBadResponse,
		}
	}

	name := strings.TrimSpace(doc.Find("#js_name").Text())
	if name == "" {
		name, _ = doc.Find(`meta[property="og:article:author"]`).Attr("content")
		name = strings.TrimSpace(name)
	}
	if name == "" {
		name = strings.TrimSpace(doc.Find(".rich_media_meta_nickname").First().Text())
	}
	if name == "" {
		return "", &PlatformError{
			Message:   "article page names no account",
			Retryable: false,
			Cause:     ErrCauseAccountNotFound,
		}
	}

	return c.SearchAccount(ctx, auth, name)
}

// apiGet performs an authenticated JSON API request.
func (c *Client) apiGet(ctx context.Context, auth Auth, path string, params url.Values) ([]byte, failure.ClassifiedError) {
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &PlatformError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseUpstreamFailure,
		}
	}
	c.applyHeaders(req, auth)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	return c.do(req)
}

// pageGet fetches an article page as a browser would.
func (c *Client) pageGet(ctx context.Context, auth Auth, pageURL string) ([]byte, failure.ClassifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &PlatformError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseUpstreamFailure,
		}
	}
	c.applyHeaders(req, auth)

	return c.do(req)
}

func (c *Client) applyHeaders(req *http.Request, auth Auth) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	if auth.Cookie != "" {
		req.Header.Set("Cookie", auth.Cookie)
	}
}

func (c *Client) do(req *http.Request) ([]byte, failure.ClassifiedError) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &PlatformError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseUpstreamFailure,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &PlatformError{
			Message:   fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Cause:     ErrCauseUpstreamFailure,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &PlatformError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseUpstreamFailure,
		}
	}
	return body, nil
}

// classifyRet maps the listing API's return code onto error semantics.
// Credential problems are fatal: retrying with the same cookies cannot
// succeed, and the caller must surface them to the session owner.
func classifyRet(br baseResp) failure.ClassifiedError {
	switch br.Ret {
	case 0:
		return nil
	case retCookieExpired, retInvalidSession:
		return &PlatformError{
			Message:   fmt.Sprintf("platform rejected credentials (ret=%d, %s)", br.Ret, br.ErrMsg),
			Retryable: false,
			Cause:     ErrCauseAuthRejected,
		}
	default:
		return &PlatformError{
			Message:   fmt.Sprintf("listing API returned ret=%d (%s)", br.Ret, br.ErrMsg),
			Retryable: false,
			Cause:     ErrCauseUpstreamFailure,
		}
	}
}
