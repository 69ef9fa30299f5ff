package server

import (
	"time"

	"github.com/rohmanhakim/article-archiver/internal/session"
	"github.com/rohmanhakim/article-archiver/internal/token"
)

// Request modes accepted by the start endpoint.
const (
	ModeSingle           = "single"
	ModeBatchByCount     = "batchByCount"
	ModeBatchByDateRange = "batchByDateRange"
)

// Rejection reasons. Machine-readable; the message field carries the
// human-readable part.
const (
	ReasonBadToken           = "BadToken"
	ReasonTokenClassMismatch = "TokenClassMismatch"
	ReasonRateLimited        = "RateLimited"
	ReasonBanned             = "Banned"
	ReasonInvalidTarget      = "InvalidTarget"
	ReasonInvalidDateRange   = "InvalidDateRange"
	ReasonInvalidRequest     = "InvalidRequest"
	ReasonNotFound           = "NotFound"
	ReasonInvalidState       = "InvalidState"
	ReasonInternal           = "Internal"
)

type startRequest struct {
	AuthToken string `json:"authToken"`
	Mode      string `json:"mode"`
	Target    string `json:"target"`
	Cookie    string `json:"cookie"`
	APIToken  string `json:"apiToken"`
	Count     int    `json:"count"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
}

type rejection struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type ackResponse struct {
	Status string `json:"status"`
}

// sessionView is the status snapshot of one session. Credentials are
// deliberately absent.
type sessionView struct {
	ID           string `json:"id"`
	Mode         string `json:"mode"`
	Status       string `json:"status"`
	Target       string `json:"target"`
	CreatedAt    string `json:"createdAt"`
	LastActivity string `json:"lastActivity"`
}

func viewOf(sess *session.Session) sessionView {
	return sessionView{
		ID:           sess.ID(),
		Mode:         string(sess.Mode()),
		Status:       string(sess.Status()),
		Target:       sess.Target(),
		CreatedAt:    sess.CreatedAt().UTC().Format(time.RFC3339),
		LastActivity: sess.LastActivity().UTC().Format(time.RFC3339),
	}
}

type issueRequest struct {
	Class string `json:"class"`
	Count int    `json:"count"`
	Note  string `json:"note"`
}

type tokenView struct {
	ID         string `json:"id"`
	Class      string `json:"class"`
	Note       string `json:"note,omitempty"`
	IssuedAt   string `json:"issuedAt"`
	Consumed   bool   `json:"consumed"`
	ConsumedAt string `json:"consumedAt,omitempty"`
}

func tokenViewOf(t token.Token) tokenView {
	v := tokenView{
		ID:       t.ID(),
		Class:    classNames[t.Class()],
		Note:     t.Note(),
		IssuedAt: t.IssuedAt().UTC().Format(time.RFC3339),
		Consumed: t.Consumed(),
	}
	if at := t.ConsumedAt(); at != nil {
		v.ConsumedAt = at.UTC().Format(time.RFC3339)
	}
	return v
}

type statsView struct {
	Issued      int `json:"issued"`
	Consumed    int `json:"consumed"`
	Outstanding int `json:"outstanding"`
}

var classNames = map[token.Class]string{
	token.ClassSingle: "single",
	token.ClassBatch:  "batch",
}

func parseClass(name string) (token.Class, bool) {
	switch name {
	case "single":
		return token.ClassSingle, true
	case "batch":
		return token.ClassBatch, true
	}
	return "", false
}
