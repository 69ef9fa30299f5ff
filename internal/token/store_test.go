package token_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/article-archiver/internal/token"
)

func openStore(t *testing.T) *token.Store {
	t.Helper()
	s, err := token.Open(t.TempDir(), token.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func causeOf(t *testing.T, err error) token.TokenErrorCause {
	t.Helper()
	var terr *token.TokenError
	require.True(t, errors.As(err, &terr), "expected a TokenError, got %v", err)
	return terr.Cause
}

func TestIssueProducesWellFormedID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	shape := regexp.MustCompile(`^[SB]-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

	single, err := s.Issue(ctx, token.ClassSingle, "for alice")
	require.Nil(t, err)
	assert.Regexp(t, shape, single.ID())
	assert.Equal(t, "S", single.ID()[:1])
	assert.Equal(t, token.ClassSingle, single.Class())
	assert.Equal(t, "for alice", single.Note())
	assert.False(t, single.Consumed())

	batch, err := s.Issue(ctx, token.ClassBatch, "")
	require.Nil(t, err)
	assert.Regexp(t, shape, batch.ID())
	assert.Equal(t, "B", batch.ID()[:1])

	assert.NotEqual(t, single.ID(), batch.ID())
}

func TestIssueRejectsUnknownClass(t *testing.T) {
	s := openStore(t)

	_, err := s.Issue(context.Background(), token.Class("X"), "")
	require.NotNil(t, err)
	assert.Equal(t, token.ErrCauseMalformedFormat, causeOf(t, err))
}

func TestTryConsumeSucceedsExactlyOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tok, err := s.Issue(ctx, token.ClassSingle, "")
	require.Nil(t, err)

	require.Nil(t, s.TryConsume(ctx, tok.ID(), token.ClassSingle))

	second := s.TryConsume(ctx, tok.ID(), token.ClassSingle)
	require.NotNil(t, second)
	assert.Equal(t, token.ErrCauseAlreadyUsed, causeOf(t, second))
}

func TestTryConsumeRejectionOrder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tok, err := s.Issue(ctx, token.ClassBatch, "")
	require.Nil(t, err)
	require.Nil(t, s.TryConsume(ctx, tok.ID(), token.ClassBatch))

	tests := []struct {
		name string
		id   string
		want token.Class
		exp  token.TokenErrorCause
	}{
		{
			name: "garbage id",
			id:   "not-a-token",
			want: token.ClassSingle,
			exp:  token.ErrCauseMalformedFormat,
		},
		{
			name: "lowercase hex",
			id:   "S-abcd-abcd-abcd-abcd",
			want: token.ClassSingle,
			exp:  token.ErrCauseMalformedFormat,
		},
		{
			name: "wrong class wins over not found",
			id:   "B-0000-0000-0000-0000",
			want: token.ClassSingle,
			exp:  token.ErrCauseClassMismatch,
		},
		{
			name: "wrong class wins over already used",
			id:   tok.ID(),
			want: token.ClassSingle,
			exp:  token.ErrCauseClassMismatch,
		},
		{
			name: "well-formed but never issued",
			id:   "S-0000-0000-0000-0000",
			want: token.ClassSingle,
			exp:  token.ErrCauseNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.TryConsume(ctx, tt.id, tt.want)
			require.NotNil(t, err)
			assert.Equal(t, tt.exp, causeOf(t, err))
		})
	}
}

func TestTryConsumeConcurrentSingleWinner(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tok, err := s.Issue(ctx, token.ClassSingle, "")
	require.Nil(t, err)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryConsume(ctx, tok.ID(), token.ClassSingle) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one goroutine may redeem the token")
}

func TestConsumedStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := token.Open(dir, token.DefaultOptions())
	require.NoError(t, err)

	tok, terr := s.Issue(ctx, token.ClassSingle, "")
	require.Nil(t, terr)
	require.Nil(t, s.TryConsume(ctx, tok.ID(), token.ClassSingle))
	require.NoError(t, s.Close())

	reopened, err := token.Open(dir, token.DefaultOptions())
	require.NoError(t, err)
	defer reopened.Close()

	again := reopened.TryConsume(ctx, tok.ID(), token.ClassSingle)
	require.NotNil(t, again)
	assert.Equal(t, token.ErrCauseAlreadyUsed, causeOf(t, again))
}

func TestListAndStats(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first, err := s.Issue(ctx, token.ClassSingle, "first")
	require.Nil(t, err)
	_, err = s.Issue(ctx, token.ClassBatch, "second")
	require.Nil(t, err)

	require.Nil(t, s.TryConsume(ctx, first.ID(), token.ClassSingle))

	all, lerr := s.List(ctx, true)
	require.NoError(t, lerr)
	assert.Len(t, all, 2)

	outstanding, lerr := s.List(ctx, false)
	require.NoError(t, lerr)
	require.Len(t, outstanding, 1)
	assert.Equal(t, token.ClassBatch, outstanding[0].Class())

	stats, serr := s.CollectStats(ctx)
	require.NoError(t, serr)
	require.Contains(t, stats, token.ClassSingle)
	require.Contains(t, stats, token.ClassBatch)
	assert.Equal(t, 1, stats[token.ClassSingle].Issued())
	assert.Equal(t, 1, stats[token.ClassSingle].Consumed())
	assert.Equal(t, 0, stats[token.ClassSingle].Outstanding())
	assert.Equal(t, 1, stats[token.ClassBatch].Issued())
	assert.Equal(t, 0, stats[token.ClassBatch].Consumed())
	assert.Equal(t, 1, stats[token.ClassBatch].Outstanding())
}
