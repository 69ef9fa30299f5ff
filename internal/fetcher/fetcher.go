package fetcher

import (
	"context"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
	"github.com/rohmanhakim/article-archiver/pkg/retry"
)

type Fetcher interface {
	// FetchHTML retrieves an article page. Non-HTML responses are rejected.
	FetchHTML(
		ctx context.Context,
		fetchParam FetchParam,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)

	// FetchResource retrieves an embedded asset such as an image or a
	// stylesheet. Any content type is accepted.
	FetchResource(
		ctx context.Context,
		fetchParam FetchParam,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)
}
