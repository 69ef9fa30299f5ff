package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/article-archiver/internal/config"
	"github.com/rohmanhakim/article-archiver/internal/events"
	"github.com/rohmanhakim/article-archiver/internal/fetcher"
	"github.com/rohmanhakim/article-archiver/internal/guard"
	"github.com/rohmanhakim/article-archiver/internal/localizer"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/internal/orchestrator"
	"github.com/rohmanhakim/article-archiver/internal/platform"
	"github.com/rohmanhakim/article-archiver/internal/server"
	"github.com/rohmanhakim/article-archiver/internal/session"
	"github.com/rohmanhakim/article-archiver/internal/storage"
	"github.com/rohmanhakim/article-archiver/internal/token"
	"github.com/rohmanhakim/article-archiver/pkg/limiter"
)

type testEnv struct {
	router   *gin.Engine
	tokens   *token.Store
	registry *session.Registry
	platform *httptest.Server
}

func defaultGuard() *guard.Guard {
	return guard.New(
		time.Minute,
		map[guard.OperationClass]int{
			guard.OpStart:   100,
			guard.OpControl: 1000,
		},
		3,
		time.Hour,
		time.Hour,
	)
}

// newTestEnv wires a full server against a fake upstream platform serving
// one article.
func newTestEnv(t *testing.T, abuseGuard *guard.Guard) *testEnv {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/article/0", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Only Article</title></head><body><div id="js_content">hello</div></body></html>`)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	root := t.TempDir()
	cfg, err := config.WithDefault().
		WithOutputRoot(root).
		WithDataDir(t.TempDir()).
		WithPlatformBaseURL(upstream.URL).
		WithDelayBounds(0, 0).
		WithMaxAttempt(1).
		WithBackoffInitialDuration(time.Millisecond).
		Build()
	require.NoError(t, err)

	tokens, openErr := token.Open(cfg.DataDir(), token.DefaultOptions())
	require.NoError(t, openErr)
	t.Cleanup(func() { tokens.Close() })

	log := logger.NewNop()
	registry := session.NewRegistry(root, cfg.EventBufferCapacity(), cfg.SessionIdleTimeout(), cfg.ReapInterval(), log)
	client := platform.NewClient(cfg.PlatformBaseURL(), cfg.UserAgent(), cfg.Timeout(), log)
	htmlFetcher := fetcher.NewHtmlFetcher(cfg.Timeout(), log)
	htmlLocalizer := localizer.NewHtmlLocalizer(&htmlFetcher, cfg.UserAgent(), cfg.VideoDomains(), log)
	sink := storage.NewLocalSink(log)
	orch := orchestrator.NewOrchestrator(cfg, client, &htmlFetcher, htmlLocalizer, &sink, limiter.NewConcurrentPacer(), log)

	if abuseGuard == nil {
		abuseGuard = defaultGuard()
	}

	srv := server.NewServer(cfg, tokens, abuseGuard, registry, orch, log)
	return &testEnv{
		router:   srv.Router(),
		tokens:   tokens,
		registry: registry,
		platform: upstream,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:4242"
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) issueToken(t *testing.T, class token.Class) token.Token {
	t.Helper()
	tok, err := e.tokens.Issue(context.Background(), class, "test")
	require.Nil(t, err)
	return tok
}

func decodeRejection(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Reason, body.Message
}

func startBody(env *testEnv, authToken, mode string) map[string]any {
	return map[string]any{
		"authToken": authToken,
		"mode":      mode,
		"target":    env.platform.URL + "/article/0",
		"cookie":    "session=abc",
		"apiToken":  "777",
	}
}

func waitForStatus(t *testing.T, env *testEnv, id string, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := env.registry.Get(id)
		require.Nil(t, err)
		if sess.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s", id, want)
}

func TestStartGrantsSessionAndConsumesToken(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.issueToken(t, token.ClassSingle)

	rec := env.do(t, http.MethodPost, "/api/start", startBody(env, tok.ID(), "single"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)

	waitForStatus(t, env, resp.SessionID, session.StatusCompleted)

	// The same token cannot grant a second session.
	rec = env.do(t, http.MethodPost, "/api/start", startBody(env, tok.ID(), "single"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonBadToken, reason)
}

func TestStartRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/start", startBody(env, "S-0000-0000-0000-0000", "single"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonBadToken, reason)
}

func TestStartRejectsClassMismatchWithoutConsuming(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.issueToken(t, token.ClassSingle)

	body := startBody(env, tok.ID(), "batchByCount")
	body["target"] = "Some Account"
	rec := env.do(t, http.MethodPost, "/api/start", body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonTokenClassMismatch, reason)

	outstanding, err := env.tokens.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.Equal(t, tok.ID(), outstanding[0].ID())
}

func TestStartValidatesBeforeConsumingToken(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.issueToken(t, token.ClassBatch)

	body := startBody(env, tok.ID(), "batchByDateRange")
	body["target"] = "Some Account"
	body["startDate"] = "2026-02-01"
	body["endDate"] = "2026-01-01"

	rec := env.do(t, http.MethodPost, "/api/start", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonInvalidDateRange, reason)

	// The rejected request must not burn the token.
	outstanding, err := env.tokens.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
}

func TestStartRejectsInvalidTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.issueToken(t, token.ClassSingle)

	body := startBody(env, tok.ID(), "single")
	body["target"] = "not a url"
	rec := env.do(t, http.MethodPost, "/api/start", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonInvalidTarget, reason)
}

func TestRepeatedAuthFailuresBanTheIdentity(t *testing.T) {
	env := newTestEnv(t, guard.New(
		time.Minute,
		map[guard.OperationClass]int{guard.OpStart: 100, guard.OpControl: 1000},
		2,
		time.Hour,
		time.Hour,
	))

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/start", startBody(env, "S-0000-0000-0000-0000", "single"))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/start", startBody(env, "S-0000-0000-0000-0000", "single"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	reason, message := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonBanned, reason)
	assert.Contains(t, message, "banned until")
}

func TestStartRateLimited(t *testing.T) {
	env := newTestEnv(t, guard.New(
		time.Minute,
		map[guard.OperationClass]int{guard.OpStart: 1, guard.OpControl: 1000},
		10,
		time.Hour,
		time.Hour,
	))

	rec := env.do(t, http.MethodPost, "/api/start", startBody(env, "S-0000-0000-0000-0000", "single"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/start", startBody(env, "S-0000-0000-0000-0000", "single"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonRateLimited, reason)
}

func TestPauseResumeLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/sessions/nope/pause", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	sess, err := env.registry.Create(session.ModeBatch, "Some Account", "", nil)
	require.Nil(t, err)
	require.Nil(t, sess.Start())

	rec = env.do(t, http.MethodPost, "/api/sessions/"+sess.ID()+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusPaused, sess.Status())

	rec = env.do(t, http.MethodPost, "/api/sessions/"+sess.ID()+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusRunning, sess.Status())

	// Resuming a running session is an invalid transition.
	rec = env.do(t, http.MethodPost, "/api/sessions/"+sess.ID()+"/resume", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonInvalidState, reason)
}

func TestSessionStatusRedactsCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	sess, err := env.registry.Create(session.ModeSingle, "https://example.com/a", "wxuin=secret-cookie", nil)
	require.Nil(t, err)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+sess.ID(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "secret-cookie")

	var view struct {
		ID     string `json:"id"`
		Mode   string `json:"mode"`
		Status string `json:"status"`
		Target string `json:"target"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, sess.ID(), view.ID)
	assert.Equal(t, "single", view.Mode)
	assert.Equal(t, "idle", view.Status)
}

func TestEventsStreamDeliversBufferedAndLive(t *testing.T) {
	env := newTestEnv(t, nil)

	sess, err := env.registry.Create(session.ModeBatch, "Some Account", "", nil)
	require.Nil(t, err)
	sess.Stream().Publish(events.Log(events.LevelInfo, "buffered entry"))

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	resp, httpErr := http.Get(ts.URL + "/api/sessions/" + sess.ID() + "/events")
	require.NoError(t, httpErr)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go sess.Stream().Publish(events.Progress("live entry", map[string]any{"n": 1}))

	var dataLines []string
	scanner := bufio.NewScanner(resp.Body)
	deadline := time.AfterFunc(10*time.Second, func() { resp.Body.Close() })
	defer deadline.Stop()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
		if len(dataLines) == 2 {
			break
		}
	}
	require.Len(t, dataLines, 2)
	assert.Contains(t, dataLines[0], "buffered entry")
	assert.Contains(t, dataLines[1], "live entry")
}

func TestAdminTokenEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/admin/tokens", map[string]any{
		"class": "batch",
		"count": 3,
		"note":  "for ops",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var issued struct {
		Tokens []struct {
			ID    string `json:"id"`
			Class string `json:"class"`
		} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.Len(t, issued.Tokens, 3)
	for _, tok := range issued.Tokens {
		assert.Equal(t, "batch", tok.Class)
		assert.Regexp(t, `^B-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`, tok.ID)
	}

	env.issueToken(t, token.ClassSingle)

	rec = env.do(t, http.MethodGet, "/api/admin/tokens?include_used=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Tokens []tokenRow `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Tokens, 4)

	rec = env.do(t, http.MethodGet, "/api/admin/tokens/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]struct {
		Issued      int `json:"issued"`
		Consumed    int `json:"consumed"`
		Outstanding int `json:"outstanding"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats["batch"].Issued)
	assert.Equal(t, 1, stats["single"].Issued)
	assert.Equal(t, 1, stats["single"].Outstanding)
}

func TestUnknownModeRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/start", startBody(env, "S-0000-0000-0000-0000", "bulk"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	reason, _ := decodeRejection(t, rec)
	assert.Equal(t, server.ReasonInvalidRequest, reason)
}

type tokenRow struct {
	ID       string `json:"id"`
	Class    string `json:"class"`
	Consumed bool   `json:"consumed"`
}
