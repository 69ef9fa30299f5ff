package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/pkg/failure"
	"github.com/rohmanhakim/article-archiver/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Handle redirects safely
- Classify responses

Fetch Semantics

- FetchHTML only accepts successful HTML responses
- FetchResource accepts any successful response
- Redirect chains are bounded
- Every fetch is logged with status and duration

The fetcher never parses content; it only returns bytes and metadata.
*/

type HtmlFetcher struct {
	httpClient *http.Client
	log        logger.Logger
}

func NewHtmlFetcher(timeout time.Duration, log logger.Logger) HtmlFetcher {
	return HtmlFetcher{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (h *HtmlFetcher) FetchHTML(
	ctx context.Context,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	return h.fetch(ctx, fetchParam, retryParam, true)
}

func (h *HtmlFetcher) FetchResource(
	ctx context.Context,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	return h.fetch(ctx, fetchParam, retryParam, false)
}

func (h *HtmlFetcher) fetch(
	ctx context.Context,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
	htmlOnly bool,
) (FetchResult, failure.ClassifiedError) {
	startTime := time.Now()

	result, err := h.fetchWithRetry(ctx, fetchParam, retryParam, htmlOnly)

	duration := time.Since(startTime)

	if err != nil {
		h.log.Warn("fetch failed",
			logger.String("url", fetchParam.fetchUrl.String()),
			logger.Duration("duration", duration),
			logger.Err(err),
		)
		return FetchResult{}, err
	}

	h.log.Debug("fetch ok",
		logger.String("url", fetchParam.fetchUrl.String()),
		logger.Int("status", result.Code()),
		logger.Int64("bytes", int64(result.SizeByte())),
		logger.Duration("duration", duration),
	)
	return result, nil
}

func (h *HtmlFetcher) fetchWithRetry(
	ctx context.Context,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
	htmlOnly bool,
) (FetchResult, failure.ClassifiedError) {
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchParam, htmlOnly)
	}

	result, retryErr := retry.Retry(retryParam, fetchTask)

	if retryErr != nil {
		// The task may have failed with a terminal FetchError; return that
		// directly rather than wrapped in a RetryError.
		var fetchErr *FetchError
		if errors.As(retryErr, &fetchErr) {
			return FetchResult{}, fetchErr
		}

		return FetchResult{}, retryErr
	}

	return result, nil
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchParam FetchParam, htmlOnly bool) (FetchResult, failure.ClassifiedError) {
	fetchUrl := fetchParam.fetchUrl

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	// Apply browser-like headers
	headers := requestHeaders(fetchParam.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if fetchParam.cookie != "" {
		req.Header.Set("Cookie", fetchParam.cookie)
	}
	if fetchParam.referer != "" {
		req.Header.Set("Referer", fetchParam.referer)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		// Network/transport errors are retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	defer resp.Body.Close()

	// Handle HTTP status codes
	switch {
	case resp.StatusCode >= 500:
		// Server errors (5xx) are retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable: true,
			Cause:     ErrCauseRequest5xx,
		}

	case resp.StatusCode == 429:
		// Too Many Requests is retryable
		return FetchResult{}, &FetchError{
			Message:   "rate limited (429)",
			Retryable: true,
			Cause:     ErrCauseRequestTooMany,
		}

	case resp.StatusCode == 403:
		// Forbidden is not retryable
		return FetchResult{}, &FetchError{
			Message:   "access forbidden (403)",
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Other client errors are not retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Redirects should be handled by http.Client, but if we get here,
		// it means redirect limit exceeded
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("redirect error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRedirectLimitExceeded,
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if htmlOnly && !isHTMLContent(contentType) {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("non-HTML content type: %s", contentType),
			Retryable: false,
			Cause:     ErrCauseContentTypeInvalid,
		}
	}

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}

	if htmlOnly {
		// Older pages are served in legacy encodings such as GBK. Documents
		// are stored and parsed as UTF-8, so transcode here.
		decoded, decodeErr := decodeToUTF8(body, contentType)
		if decodeErr != nil {
			return FetchResult{}, &FetchError{
				Message:   fmt.Sprintf("failed to decode response body: %v", decodeErr),
				Retryable: false,
				Cause:     ErrCauseReadResponseBodyError,
			}
		}
		body = decoded
	}

	// Build response headers map
	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	result := FetchResult{
		url:  fetchUrl,
		body: body,
		meta: ResponseMeta{
			statusCode:          resp.StatusCode,
			contentType:         contentType,
			transferredSizeByte: uint64(len(body)),
			responseHeaders:     responseHeaders,
		},
	}

	return result, nil
}

// decodeToUTF8 transcodes an HTML document to UTF-8, sniffing the source
// encoding from the Content-Type header and the document itself.
func decodeToUTF8(body []byte, contentType string) ([]byte, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

func isHTMLContent(contentType string) bool {
	// Check if content type is HTML
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"Connection":      "keep-alive",
	}
}

var _ Fetcher = (*HtmlFetcher)(nil)
