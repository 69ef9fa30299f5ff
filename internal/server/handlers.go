package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rohmanhakim/article-archiver/internal/events"
	"github.com/rohmanhakim/article-archiver/internal/guard"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/internal/platform"
	"github.com/rohmanhakim/article-archiver/internal/session"
	"github.com/rohmanhakim/article-archiver/internal/token"
)

const dateLayout = "2006-01-02"

// maxTokensPerIssue bounds a single administrative issuance request.
const maxTokensPerIssue = 100

// handleStart admits, authorizes, and launches a new session. The token is
// consumed at the moment the session is granted: a validation failure
// earlier in the chain leaves it spendable, a pipeline failure later does
// not revive it.
func (s *Server) handleStart(c *gin.Context) {
	identity := c.ClientIP()

	if err := s.guard.Admit(identity, guard.OpStart); err != nil {
		s.rejectGuard(c, err)
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, rejection{
			Reason:  ReasonInvalidRequest,
			Message: "request body is not valid JSON",
		})
		return
	}

	var mode session.Mode
	var want token.Class
	switch req.Mode {
	case ModeSingle:
		mode, want = session.ModeSingle, token.ClassSingle
	case ModeBatchByCount, ModeBatchByDateRange:
		mode, want = session.ModeBatch, token.ClassBatch
	default:
		c.JSON(http.StatusBadRequest, rejection{
			Reason:  ReasonInvalidRequest,
			Message: fmt.Sprintf("unknown mode %q", req.Mode),
		})
		return
	}

	target := strings.TrimSpace(req.Target)
	if target == "" {
		c.JSON(http.StatusBadRequest, rejection{
			Reason:  ReasonInvalidTarget,
			Message: "target is required",
		})
		return
	}
	if mode == session.ModeSingle && !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		c.JSON(http.StatusBadRequest, rejection{
			Reason:  ReasonInvalidTarget,
			Message: "single mode requires an article URL",
		})
		return
	}

	var dateRange *session.DateRange
	if req.Mode == ModeBatchByDateRange {
		parsed, reject := parseDateRange(req.StartDate, req.EndDate)
		if reject != nil {
			c.JSON(http.StatusBadRequest, *reject)
			return
		}
		dateRange = parsed
	}

	if err := s.tokens.TryConsume(c.Request.Context(), strings.TrimSpace(req.AuthToken), want); err != nil {
		s.guard.RecordAuthFailure(identity)
		s.rejectToken(c, err)
		return
	}
	s.guard.RecordAuthSuccess(identity)

	sess, err := s.registry.Create(mode, target, req.Cookie, dateRange)
	if err != nil {
		c.JSON(http.StatusInternalServerError, rejection{
			Reason:  ReasonInternal,
			Message: "failed to create session",
		})
		return
	}

	auth := platform.Auth{Cookie: req.Cookie, Token: req.APIToken}
	s.orch.Launch(sess, auth, req.Count)

	s.log.Info("session granted",
		logger.String("session", sess.ID()),
		logger.String("mode", string(mode)),
		logger.String("client_ip", identity),
	)
	c.JSON(http.StatusAccepted, startResponse{SessionID: sess.ID()})
}

func parseDateRange(startDate, endDate string) (*session.DateRange, *rejection) {
	if startDate == "" || endDate == "" {
		return nil, &rejection{
			Reason:  ReasonInvalidDateRange,
			Message: "startDate and endDate are required for date range mode",
		}
	}
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, &rejection{
			Reason:  ReasonInvalidDateRange,
			Message: fmt.Sprintf("startDate is not a %s date", dateLayout),
		}
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return nil, &rejection{
			Reason:  ReasonInvalidDateRange,
			Message: fmt.Sprintf("endDate is not a %s date", dateLayout),
		}
	}
	if start.After(end) {
		return nil, &rejection{
			Reason:  ReasonInvalidDateRange,
			Message: "startDate is after endDate",
		}
	}
	return &session.DateRange{Start: start, End: end}, nil
}

func (s *Server) rejectToken(c *gin.Context, err error) {
	var tokenErr *token.TokenError
	if errors.As(err, &tokenErr) && tokenErr.Cause == token.ErrCauseClassMismatch {
		c.JSON(http.StatusForbidden, rejection{
			Reason:  ReasonTokenClassMismatch,
			Message: tokenErr.Message,
		})
		return
	}
	message := "token is invalid or already used"
	if tokenErr != nil {
		message = tokenErr.Message
	}
	c.JSON(http.StatusUnauthorized, rejection{
		Reason:  ReasonBadToken,
		Message: message,
	})
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, rejection{
			Reason:  ReasonNotFound,
			Message: "no such session",
		})
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) handlePause(c *gin.Context) {
	s.setPaused(c, true)
}

func (s *Server) handleResume(c *gin.Context) {
	s.setPaused(c, false)
}

func (s *Server) setPaused(c *gin.Context, paused bool) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, rejection{
			Reason:  ReasonNotFound,
			Message: "no such session",
		})
		return
	}
	if err := sess.SetPaused(paused); err != nil {
		c.JSON(http.StatusConflict, rejection{
			Reason:  ReasonInvalidState,
			Message: fmt.Sprintf("session is %s", sess.Status()),
		})
		return
	}
	status := "paused"
	if !paused {
		status = "running"
	}
	c.JSON(http.StatusOK, ackResponse{Status: status})
}

// handleEvents streams a session's event feed over SSE. The subscriber
// first receives the buffered tail, then live events, in order and without
// gaps.
func (s *Server) handleEvents(c *gin.Context) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, rejection{
			Reason:  ReasonNotFound,
			Message: "no such session",
		})
		return
	}

	setSSEHeaders(c.Writer)
	c.Writer.Flush()

	eventChan, cleanup := sess.Stream().Subscribe()
	defer cleanup()

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if writeEvent(c.Writer, event) != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func setSSEHeaders(w gin.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeEvent(w gin.ResponseWriter, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event.Kind, event.Seq, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) handleIssueTokens(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, rejection{
			Reason:  ReasonInvalidRequest,
			Message: "request body is not valid JSON",
		})
		return
	}

	class, ok := parseClass(req.Class)
	if !ok {
		c.JSON(http.StatusBadRequest, rejection{
			Reason:  ReasonInvalidRequest,
			Message: fmt.Sprintf("unknown token class %q", req.Class),
		})
		return
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > maxTokensPerIssue {
		count = maxTokensPerIssue
	}

	issued := make([]tokenView, 0, count)
	for i := 0; i < count; i++ {
		tok, err := s.tokens.Issue(c.Request.Context(), class, req.Note)
		if err != nil {
			c.JSON(http.StatusInternalServerError, rejection{
				Reason:  ReasonInternal,
				Message: "token issuance failed",
			})
			return
		}
		issued = append(issued, tokenViewOf(tok))
	}

	c.JSON(http.StatusCreated, gin.H{"tokens": issued})
}

func (s *Server) handleListTokens(c *gin.Context) {
	includeUsed := c.Query("include_used") == "true"

	tokens, err := s.tokens.List(c.Request.Context(), includeUsed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, rejection{
			Reason:  ReasonInternal,
			Message: "token listing failed",
		})
		return
	}

	views := make([]tokenView, 0, len(tokens))
	for _, tok := range tokens {
		views = append(views, tokenViewOf(tok))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": views})
}

func (s *Server) handleTokenStats(c *gin.Context) {
	stats, err := s.tokens.CollectStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, rejection{
			Reason:  ReasonInternal,
			Message: "token stats failed",
		})
		return
	}

	views := make(map[string]statsView, len(stats))
	for class, st := range stats {
		views[classNames[class]] = statsView{
			Issued:      st.Issued(),
			Consumed:    st.Consumed(),
			Outstanding: st.Outstanding(),
		}
	}
	c.JSON(http.StatusOK, views)
}
