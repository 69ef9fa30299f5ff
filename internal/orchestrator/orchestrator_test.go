package orchestrator_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/article-archiver/internal/config"
	"github.com/rohmanhakim/article-archiver/internal/events"
	"github.com/rohmanhakim/article-archiver/internal/fetcher"
	"github.com/rohmanhakim/article-archiver/internal/localizer"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/internal/orchestrator"
	"github.com/rohmanhakim/article-archiver/internal/platform"
	"github.com/rohmanhakim/article-archiver/internal/session"
	"github.com/rohmanhakim/article-archiver/internal/storage"
	"github.com/rohmanhakim/article-archiver/pkg/limiter"
)

const testAccountID = "MzA5NTc2ODQ4NQ=="

type articleFixture struct {
	title       string
	publishedAt time.Time
}

// platformFixture fakes the upstream account search, article listing, and
// article page endpoints on one httptest server.
type platformFixture struct {
	server   *httptest.Server
	articles []articleFixture
	listHits atomic.Int64
}

func newPlatformFixture(t *testing.T, articles []articleFixture) *platformFixture {
	t.Helper()
	f := &platformFixture{articles: articles}

	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/searchbiz", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"base_resp": map[string]any{"ret": 0},
			"list": []map[string]any{
				{"fakeid": testAccountID, "nickname": r.URL.Query().Get("query")},
			},
		})
	})
	mux.HandleFunc("/cgi-bin/appmsg", func(w http.ResponseWriter, r *http.Request) {
		f.listHits.Add(1)
		begin, _ := strconv.Atoi(r.URL.Query().Get("begin"))
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))

		var rows []map[string]any
		for i := begin; i < begin+count && i < len(f.articles); i++ {
			rows = append(rows, map[string]any{
				"title":       f.articles[i].title,
				"link":        f.server.URL + "/article/" + strconv.Itoa(i),
				"digest":      "",
				"create_time": f.articles[i].publishedAt.Unix(),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"base_resp":    map[string]any{"ret": 0},
			"app_msg_list": rows,
		})
	})
	mux.HandleFunc("/article/", func(w http.ResponseWriter, r *http.Request) {
		idx, _ := strconv.Atoi(filepath.Base(r.URL.Path))
		title := "untitled"
		if idx >= 0 && idx < len(f.articles) {
			title = f.articles[idx].title
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head><title>%s</title></head><body><div id="js_content">body %d</div></body></html>`, title, idx)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type harness struct {
	cfg      config.Config
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	root     string
}

func newHarness(t *testing.T, fixture *platformFixture) *harness {
	return newHarnessWithDelay(t, fixture, 0, 0)
}

func newHarnessWithDelay(t *testing.T, fixture *platformFixture, delayMin, delayMax time.Duration) *harness {
	t.Helper()

	root := t.TempDir()
	cfg, err := config.WithDefault().
		WithOutputRoot(root).
		WithPlatformBaseURL(fixture.server.URL).
		WithDelayBounds(delayMin, delayMax).
		WithMaxAttempt(1).
		WithBackoffInitialDuration(time.Millisecond).
		WithRandomSeed(42).
		Build()
	require.NoError(t, err)

	log := logger.NewNop()
	client := platform.NewClient(cfg.PlatformBaseURL(), cfg.UserAgent(), cfg.Timeout(), log)
	htmlFetcher := fetcher.NewHtmlFetcher(cfg.Timeout(), log)
	htmlLocalizer := localizer.NewHtmlLocalizer(&htmlFetcher, cfg.UserAgent(), cfg.VideoDomains(), log)
	sink := storage.NewLocalSink(log)
	registry := session.NewRegistry(root, cfg.EventBufferCapacity(), cfg.SessionIdleTimeout(), cfg.ReapInterval(), log)

	orch := orchestrator.NewOrchestrator(
		cfg,
		client,
		&htmlFetcher,
		htmlLocalizer,
		&sink,
		limiter.NewConcurrentPacer(),
		log,
	)

	return &harness{cfg: cfg, registry: registry, orch: orch, root: root}
}

func testAuth() platform.Auth {
	return platform.Auth{Cookie: "session=abc", Token: "777"}
}

func findEvent(buffered []events.Event, kind events.Kind) (events.Event, bool) {
	for _, e := range buffered {
		if e.Kind == kind {
			return e, true
		}
	}
	return events.Event{}, false
}

func TestRunSingleArchivesOneArticle(t *testing.T) {
	fixture := newPlatformFixture(t, []articleFixture{
		{title: "Solo Article", publishedAt: time.Now()},
	})
	h := newHarness(t, fixture)

	sess, err := h.registry.Create(session.ModeSingle, fixture.server.URL+"/article/0", "", nil)
	require.Nil(t, err)

	h.orch.Run(sess, testAuth(), 0)

	assert.Equal(t, session.StatusCompleted, sess.Status())

	completed, ok := findEvent(sess.Stream().Buffered(), events.KindCompleted)
	require.True(t, ok)
	assert.Equal(t, 1, completed.Data["archived"])
	assert.Equal(t, true, completed.Data["tokenConsumed"])

	content, readErr := os.ReadFile(filepath.Join(sess.WorkDir(), "Solo Article.html"))
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "body 0")
}

func TestRunBatchArchivesUpToCount(t *testing.T) {
	now := time.Now()
	var articles []articleFixture
	for i := 0; i < 7; i++ {
		articles = append(articles, articleFixture{
			title:       fmt.Sprintf("Article %d", i),
			publishedAt: now.Add(-time.Duration(i) * 24 * time.Hour),
		})
	}
	fixture := newPlatformFixture(t, articles)
	h := newHarness(t, fixture)

	sess, err := h.registry.Create(session.ModeBatch, "Example Account", "", nil)
	require.Nil(t, err)

	h.orch.Run(sess, testAuth(), 3)

	assert.Equal(t, session.StatusCompleted, sess.Status())

	completed, ok := findEvent(sess.Stream().Buffered(), events.KindCompleted)
	require.True(t, ok)
	assert.Equal(t, 3, completed.Data["archived"])

	for i := 0; i < 3; i++ {
		_, statErr := os.Stat(filepath.Join(sess.WorkDir(), fmt.Sprintf("Article %d.html", i)))
		assert.NoError(t, statErr)
	}
	_, statErr := os.Stat(filepath.Join(sess.WorkDir(), "Article 3.html"))
	assert.True(t, os.IsNotExist(statErr))

	// Three articles fit in the first listing page.
	assert.Equal(t, int64(1), fixture.listHits.Load())
}

func TestRunBatchDateRangeStopsBeforeOlderPages(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	var articles []articleFixture
	for i := 0; i < 12; i++ {
		articles = append(articles, articleFixture{
			title:       fmt.Sprintf("Dated %d", i),
			publishedAt: base.Add(-time.Duration(i) * 24 * time.Hour),
		})
	}
	fixture := newPlatformFixture(t, articles)
	h := newHarness(t, fixture)

	// Covers the two newest articles only.
	dateRange := &session.DateRange{
		Start: base.Add(-24 * time.Hour),
		End:   base,
	}
	sess, err := h.registry.Create(session.ModeBatch, "Example Account", "", dateRange)
	require.Nil(t, err)

	h.orch.Run(sess, testAuth(), 0)

	assert.Equal(t, session.StatusCompleted, sess.Status())

	completed, ok := findEvent(sess.Stream().Buffered(), events.KindCompleted)
	require.True(t, ok)
	assert.Equal(t, 2, completed.Data["archived"])

	// Page two is entirely older than the range start, so page three is
	// never requested.
	assert.Equal(t, int64(2), fixture.listHits.Load())
}

func TestRunSkipsAlreadySavedArtifact(t *testing.T) {
	fixture := newPlatformFixture(t, []articleFixture{
		{title: "Existing", publishedAt: time.Now()},
	})
	h := newHarness(t, fixture)

	sess, err := h.registry.Create(session.ModeSingle, fixture.server.URL+"/article/0", "", nil)
	require.Nil(t, err)

	prior := filepath.Join(sess.WorkDir(), "Existing.html")
	require.NoError(t, os.WriteFile(prior, []byte("<html>old</html>"), 0644))

	h.orch.Run(sess, testAuth(), 0)

	assert.Equal(t, session.StatusCompleted, sess.Status())

	completed, ok := findEvent(sess.Stream().Buffered(), events.KindCompleted)
	require.True(t, ok)
	assert.Equal(t, 0, completed.Data["archived"])

	var skipped bool
	for _, e := range sess.Stream().Buffered() {
		if e.Kind == events.KindProgress && e.Message == "article already saved" {
			skipped = true
		}
	}
	assert.True(t, skipped)

	content, readErr := os.ReadFile(prior)
	require.NoError(t, readErr)
	assert.Equal(t, "<html>old</html>", string(content))
}

func TestRunFailsWhenCredentialsRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/searchbiz", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"base_resp": map[string]any{"ret": 200013, "err_msg": "freq control"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	fixture := &platformFixture{server: server}
	h := newHarness(t, fixture)

	sess, err := h.registry.Create(session.ModeBatch, "Example Account", "", nil)
	require.Nil(t, err)

	h.orch.Run(sess, testAuth(), 0)

	assert.Equal(t, session.StatusFailed, sess.Status())

	failed, ok := findEvent(sess.Stream().Buffered(), events.KindFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "platform error")
	assert.Equal(t, "credentials rejected", failed.Data["reason"])
}

func TestRunExitsAtCheckpointWhenCancelled(t *testing.T) {
	now := time.Now()
	var articles []articleFixture
	for i := 0; i < 30; i++ {
		articles = append(articles, articleFixture{
			title:       fmt.Sprintf("Cancel %d", i),
			publishedAt: now,
		})
	}
	fixture := newPlatformFixture(t, articles)
	// Pacing keeps the loop slow enough for the cancel to land mid-run.
	h := newHarnessWithDelay(t, fixture, 30*time.Millisecond, 30*time.Millisecond)

	sess, err := h.registry.Create(session.ModeBatch, "Example Account", "", nil)
	require.Nil(t, err)

	ch, cleanup := sess.Stream().Subscribe()
	defer cleanup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Run(sess, testAuth(), 0)
	}()

	// Cancel once the first article lands.
	deadline := time.After(10 * time.Second)
	for {
		var stop bool
		select {
		case e := <-ch:
			if e.Kind == events.KindProgress && e.Message == "article archived" {
				stop = true
			}
		case <-deadline:
			t.Fatal("no article archived before deadline")
		}
		if stop {
			break
		}
	}
	sess.Cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("orchestrator did not exit after cancellation")
	}

	assert.Equal(t, session.StatusCancelled, sess.Status())
	_, completedSeen := findEvent(sess.Stream().Buffered(), events.KindCompleted)
	assert.False(t, completedSeen)
}
