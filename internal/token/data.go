package token

import "time"

// Class distinguishes what kind of session a token authorizes.
type Class string

const (
	// ClassSingle authorizes a session that archives one article.
	ClassSingle Class = "S"
	// ClassBatch authorizes a session that archives an account's articles.
	ClassBatch Class = "B"
)

// Valid reports whether c is one of the known token classes.
func (c Class) Valid() bool {
	return c == ClassSingle || c == ClassBatch
}

type Token struct {
	id         string
	class      Class
	note       string
	issuedAt   time.Time
	consumed   bool
	consumedAt *time.Time
}

func (t Token) ID() string {
	return t.id
}

func (t Token) Class() Class {
	return t.class
}

func (t Token) Note() string {
	return t.note
}

func (t Token) IssuedAt() time.Time {
	return t.issuedAt
}

func (t Token) Consumed() bool {
	return t.consumed
}

// ConsumedAt returns when the token was consumed, or nil if it never was.
func (t Token) ConsumedAt() *time.Time {
	if t.consumedAt == nil {
		return nil
	}
	at := *t.consumedAt
	return &at
}

// Stats summarizes the token table for the admin surface.
type Stats struct {
	issued      int
	consumed    int
	outstanding int
}

func (s Stats) Issued() int {
	return s.issued
}

func (s Stats) Consumed() int {
	return s.consumed
}

func (s Stats) Outstanding() int {
	return s.outstanding
}
