/*
 Orchestrator is the sole control-plane authority of an archiving session.

 Execution guarantees:
 - One goroutine per session; a session's pipeline is strictly sequential.
 - The pause checkpoint and the inter-page delay are the only intended
   blocking points besides network I/O.
 - Cancellation is cooperative: the loop exits at the next checkpoint and
   in-flight network calls are aborted through the session-scoped context.
 - Pipeline stages classify failures but never decide continuation; the
   orchestrator is the sole authority on retry, continue, and abort.

 Severity policy: a Fatal classification ends the session with a failed
 event; a Recoverable one is reported as a warning and the loop moves on
 to the next item.
*/
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/article-archiver/internal/config"
	"github.com/rohmanhakim/article-archiver/internal/events"
	"github.com/rohmanhakim/article-archiver/internal/fetcher"
	"github.com/rohmanhakim/article-archiver/internal/localizer"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/internal/platform"
	"github.com/rohmanhakim/article-archiver/internal/session"
	"github.com/rohmanhakim/article-archiver/internal/storage"
	"github.com/rohmanhakim/article-archiver/pkg/failure"
	"github.com/rohmanhakim/article-archiver/pkg/limiter"
	"github.com/rohmanhakim/article-archiver/pkg/retry"
	"github.com/rohmanhakim/article-archiver/pkg/timeutil"
)

type Orchestrator struct {
	cfg           config.Config
	client        *platform.Client
	articleFetch  fetcher.Fetcher
	htmlLocalizer localizer.Localizer
	sink          storage.Sink
	pacer         limiter.Pacer
	log           logger.Logger
}

func NewOrchestrator(
	cfg config.Config,
	client *platform.Client,
	articleFetch fetcher.Fetcher,
	htmlLocalizer localizer.Localizer,
	sink storage.Sink,
	pacer limiter.Pacer,
	log logger.Logger,
) *Orchestrator {
	pacer.SetDelayBounds(cfg.DelayMin(), cfg.DelayMax())
	pacer.SetRandomSeed(cfg.RandomSeed())
	return &Orchestrator{
		cfg:           cfg,
		client:        client,
		articleFetch:  articleFetch,
		htmlLocalizer: htmlLocalizer,
		sink:          sink,
		pacer:         pacer,
		log:           log,
	}
}

// Launch starts the session's pipeline on its own goroutine and returns
// immediately.
func (o *Orchestrator) Launch(sess *session.Session, auth platform.Auth, count int) {
	go o.Run(sess, auth, count)
}

// Run executes the whole pipeline for one session. count bounds batch
// enumeration; zero means "up to the configured maximum".
func (o *Orchestrator) Run(sess *session.Session, auth platform.Auth, count int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sess.Done()
		cancel()
	}()

	if err := sess.Start(); err != nil {
		o.log.Warn("session did not start",
			logger.String("session", sess.ID()),
			logger.Err(err),
		)
		return
	}

	stream := sess.Stream()
	stream.Publish(events.Log(events.LevelInfo, fmt.Sprintf("session started in %s mode", sess.Mode())))
	o.log.Info("session started",
		logger.String("session", sess.ID()),
		logger.String("mode", string(sess.Mode())),
	)

	archived, err := o.archive(ctx, sess, auth, count)
	o.pacer.Forget(sess.ID())

	if err != nil {
		if isCancellation(err) {
			o.log.Info("session cancelled", logger.String("session", sess.ID()))
			return
		}
		stream.Publish(events.Failed(failureReason(err), err.Error()))
		if failErr := sess.Fail(); failErr != nil {
			// Lost the race against the reaper; cancelled wins.
			return
		}
		o.log.Warn("session failed",
			logger.String("session", sess.ID()),
			logger.Err(err),
		)
		return
	}

	stream.Publish(events.Completed(archived, true))
	if completeErr := sess.Complete(); completeErr != nil {
		return
	}
	o.log.Info("session completed",
		logger.String("session", sess.ID()),
		logger.Int("archived", archived),
	)
}

func (o *Orchestrator) archive(
	ctx context.Context,
	sess *session.Session,
	auth platform.Auth,
	count int,
) (int, failure.ClassifiedError) {
	if sess.Mode() == session.ModeSingle {
		return o.archiveSingle(ctx, sess, auth)
	}
	return o.archiveBatch(ctx, sess, auth, count)
}

func (o *Orchestrator) archiveSingle(
	ctx context.Context,
	sess *session.Session,
	auth platform.Auth,
) (int, failure.ClassifiedError) {
	retryParam := o.retryParam()

	title, err := retry.Retry(retryParam, func() (string, failure.ClassifiedError) {
		return o.client.ArticleTitle(ctx, auth, sess.Target())
	})
	if err != nil {
		return 0, err
	}

	target := platform.NewArticleSummary(title, sess.Target(), "", time.Time{})
	archived, err := o.archiveArticle(ctx, sess, auth, target, retryParam)
	if err != nil {
		return 0, err
	}
	if !archived {
		return 0, nil
	}
	return 1, nil
}

func (o *Orchestrator) archiveBatch(
	ctx context.Context,
	sess *session.Session,
	auth platform.Auth,
	count int,
) (int, failure.ClassifiedError) {
	retryParam := o.retryParam()

	accountID, err := o.resolveAccount(ctx, sess, auth, retryParam)
	if err != nil {
		return 0, err
	}
	sess.Stream().Publish(events.Progress("account resolved", map[string]any{
		"accountId": accountID,
	}))

	limit := o.cfg.MaxArticles()
	if count > 0 && count < limit {
		limit = count
	}

	dateRange := sess.Range()
	pageSize := o.cfg.PageSize()

	archived := 0
	processed := 0
	begin := 0

	for processed < limit && begin < o.cfg.MaxArticles() {
		if err := sess.Checkpoint(); err != nil {
			return archived, err
		}
		if err := o.waitTurn(ctx, sess.ID()); err != nil {
			return archived, err
		}

		page, err := retry.Retry(retryParam, func() ([]platform.ArticleSummary, failure.ClassifiedError) {
			return o.client.ListArticles(ctx, auth, accountID, begin, pageSize)
		})
		o.pacer.MarkRequestAsNow(sess.ID())
		if err != nil {
			return archived, err
		}
		if len(page) == 0 {
			break
		}

		sess.Stream().Publish(events.Progress("listing page fetched", map[string]any{
			"begin": begin,
			"items": len(page),
		}))

		inRange := 0
		for _, article := range page {
			if processed >= limit {
				break
			}
			if dateRange != nil {
				if dateRange.Before(article.PublishedAt()) {
					continue
				}
				if !dateRange.Contains(article.PublishedAt()) {
					continue
				}
				inRange++
			}

			if err := sess.Checkpoint(); err != nil {
				return archived, err
			}

			wrote, err := o.archiveArticle(ctx, sess, auth, article, retryParam)
			if err != nil {
				return archived, err
			}
			processed++
			if wrote {
				archived++
			}
		}

		// Newest-first ordering: a page with nothing at or after the range
		// start means everything further back is older still.
		if dateRange != nil && inRange == 0 && allBefore(*dateRange, page) {
			break
		}
		if len(page) < pageSize {
			break
		}
		begin += pageSize
	}

	return archived, nil
}

// archiveArticle runs fetch, localize, and write for one article. It
// reports whether an artifact was produced; a pre-existing artifact is
// reported as already saved and skipped. Recoverable failures become
// warning events and leave the session running.
func (o *Orchestrator) archiveArticle(
	ctx context.Context,
	sess *session.Session,
	auth platform.Auth,
	article platform.ArticleSummary,
	retryParam retry.RetryParam,
) (bool, failure.ClassifiedError) {
	stream := sess.Stream()

	if path, ok := o.sink.Exists(sess.WorkDir(), article.Title()); ok {
		stream.Publish(events.Progress("article already saved", map[string]any{
			"title": article.Title(),
			"path":  path,
		}))
		return false, nil
	}

	articleUrl, parseErr := url.Parse(article.Link())
	if parseErr != nil {
		stream.Publish(events.Log(events.LevelWarning,
			fmt.Sprintf("skipping article with unparseable link: %s", article.Link())))
		return false, nil
	}

	if err := o.waitTurn(ctx, sess.ID()); err != nil {
		return false, err
	}

	fetchParam := fetcher.NewFetchParam(*articleUrl, o.cfg.UserAgent()).
		WithCookie(auth.Cookie).
		WithReferer(o.cfg.PlatformBaseURL())
	fetchResult, err := o.articleFetch.FetchHTML(ctx, fetchParam, retryParam)
	o.pacer.MarkRequestAsNow(sess.ID())
	if err != nil {
		return false, o.reportItemFailure(sess, article, "fetch failed", err)
	}

	localizeParam := localizer.NewLocalizeParam(
		*articleUrl,
		fetchResult.Body(),
		article.Title(),
		sess.WorkDir(),
	).WithCookie(auth.Cookie)

	localized, err := o.htmlLocalizer.Localize(ctx, localizeParam, retryParam)
	if err != nil {
		return false, o.reportItemFailure(sess, article, "localization failed", err)
	}
	for _, warning := range localized.Warnings() {
		stream.Publish(events.Log(events.LevelWarning,
			fmt.Sprintf("resource not localized: %s: %s", warning.Resource(), warning.Reason())))
	}

	writeResult, err := o.sink.Write(sess.WorkDir(), article.Title(), localized.Document())
	if err != nil {
		return false, o.reportItemFailure(sess, article, "write failed", err)
	}

	stream.Publish(events.Progress("article archived", map[string]any{
		"title":  article.Title(),
		"path":   writeResult.Path(),
		"images": localized.SavedImages(),
	}))
	return true, nil
}

func (o *Orchestrator) resolveAccount(
	ctx context.Context,
	sess *session.Session,
	auth platform.Auth,
	retryParam retry.RetryParam,
) (string, failure.ClassifiedError) {
	target := sess.Target()
	return retry.Retry(retryParam, func() (string, failure.ClassifiedError) {
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			return o.client.AccountFromArticleURL(ctx, auth, target)
		}
		return o.client.SearchAccount(ctx, auth, target)
	})
}

// reportItemFailure decides whether one article's failure ends the session.
func (o *Orchestrator) reportItemFailure(
	sess *session.Session,
	article platform.ArticleSummary,
	stage string,
	err failure.ClassifiedError,
) failure.ClassifiedError {
	if err.Severity() == failure.SeverityFatal {
		return err
	}
	sess.Stream().Publish(events.Log(events.LevelWarning,
		fmt.Sprintf("%s for %q: %v", stage, article.Title(), err)))
	return nil
}

// waitTurn blocks for the delay the pacer still owes for this session.
// The randomized inter-request delay is part of the crawl contract.
func (o *Orchestrator) waitTurn(ctx context.Context, key string) failure.ClassifiedError {
	delay := o.pacer.ResolveDelay(key)
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return &session.SessionError{
			Message:   "session was cancelled",
			Retryable: false,
			Cause:     session.ErrCauseCancelled,
		}
	}
}

func (o *Orchestrator) retryParam() retry.RetryParam {
	return retry.NewRetryParam(
		o.cfg.BackoffInitialDuration(),
		o.cfg.BackoffInitialDuration()/2,
		o.cfg.RandomSeed(),
		o.cfg.MaxAttempt(),
		timeutil.NewBackoffParam(
			o.cfg.BackoffInitialDuration(),
			o.cfg.BackoffMultiplier(),
			o.cfg.BackoffMaxDuration(),
		),
	)
}

func allBefore(dateRange session.DateRange, page []platform.ArticleSummary) bool {
	for _, article := range page {
		if !dateRange.Before(article.PublishedAt()) {
			return false
		}
	}
	return true
}

func isCancellation(err failure.ClassifiedError) bool {
	var sessErr *session.SessionError
	return errors.As(err, &sessErr) && sessErr.Cause == session.ErrCauseCancelled
}

// failureReason maps a terminal pipeline error to the stable label carried
// by the Failed event, so subscribers can branch without string matching.
func failureReason(err failure.ClassifiedError) string {
	var platformErr *platform.PlatformError
	if errors.As(err, &platformErr) {
		return string(platformErr.Cause)
	}
	var fetchErr *fetcher.FetchError
	if errors.As(err, &fetchErr) {
		return string(fetchErr.Cause)
	}
	var localizerErr *localizer.LocalizerError
	if errors.As(err, &localizerErr) {
		return string(localizerErr.Cause)
	}
	var storageErr *storage.StorageError
	if errors.As(err, &storageErr) {
		return string(storageErr.Cause)
	}
	var sessErr *session.SessionError
	if errors.As(err, &sessErr) {
		return string(sessErr.Cause)
	}
	var retryErr *retry.RetryError
	if errors.As(err, &retryErr) {
		return string(retryErr.Cause)
	}
	return "internal failure"
}
