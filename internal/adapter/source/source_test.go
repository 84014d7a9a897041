package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/port/mocks"
)

func namedSource(name string) *mocks.VideoSource {
	m := &mocks.VideoSource{}
	m.On("Name").Return(name)
	return m
}

func TestSelect(t *testing.T) {
	t.Run("first healthy wins", func(t *testing.T) {
		broken := namedSource("ytdlp")
		broken.On("Probe", mock.Anything).Return(errors.New("not installed"))
		healthy := namedSource("webpage")
		healthy.On("Probe", mock.Anything).Return(nil)
		spare := namedSource("spare")

		got, err := Select(context.Background(), broken, healthy, spare)
		require.NoError(t, err)
		assert.Equal(t, "webpage", got.Name())
		spare.AssertNotCalled(t, "Probe", mock.Anything)
	})

	t.Run("all failures reported", func(t *testing.T) {
		a := namedSource("ytdlp")
		a.On("Probe", mock.Anything).Return(errors.New("not installed"))
		b := namedSource("webpage")
		b.On("Probe", mock.Anything).Return(errors.New("connection refused"))

		_, err := Select(context.Background(), a, b)
		require.ErrorIs(t, err, ErrNoSource)
		assert.Contains(t, err.Error(), "ytdlp: not installed")
		assert.Contains(t, err.Error(), "webpage: connection refused")
	})

	t.Run("no variants", func(t *testing.T) {
		_, err := Select(context.Background())
		assert.ErrorIs(t, err, ErrNoSource)
	})
}

func fastRetry(next *mocks.VideoSource, retries int) *Retrying {
	r := WithRetry(next, retries)
	r.base = time.Millisecond
	r.max = 5 * time.Millisecond
	return r
}

func TestWithRetry_RetriesTransientKinds(t *testing.T) {
	next := namedSource("webpage")
	blocked := domain.NewSourceError(domain.SourceBlocked, "alice", errors.New("429"))
	videos := []domain.VideoDescriptor{{ID: "1", URL: "u"}}
	next.On("Videos", mock.Anything, "alice", 3).Return(nil, blocked).Twice()
	next.On("Videos", mock.Anything, "alice", 3).Return(videos, nil).Once()

	got, err := fastRetry(next, 3).Videos(context.Background(), "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, videos, got)
	next.AssertNumberOfCalls(t, "Videos", 3)
}

func TestWithRetry_GivesUp(t *testing.T) {
	next := namedSource("webpage")
	unavailable := domain.NewSourceError(domain.SourceUnavailable, "alice", errors.New("timeout"))
	next.On("Profile", mock.Anything, "alice").Return(nil, unavailable)

	_, err := fastRetry(next, 2).Profile(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, domain.SourceUnavailable, domain.SourceErrorKindOf(err))
	next.AssertNumberOfCalls(t, "Profile", 3)
}

func TestWithRetry_PermanentKindsNotRetried(t *testing.T) {
	for _, kind := range []domain.SourceErrorKind{domain.SourceNotFound, domain.SourceEmpty} {
		t.Run(string(kind), func(t *testing.T) {
			next := namedSource("webpage")
			next.On("Videos", mock.Anything, "alice", 0).Return(nil, domain.NewSourceError(kind, "alice", nil))

			_, err := fastRetry(next, 3).Videos(context.Background(), "alice", 0)
			assert.Equal(t, kind, domain.SourceErrorKindOf(err))
			next.AssertNumberOfCalls(t, "Videos", 1)
		})
	}
}

func TestWithRetry_Probe(t *testing.T) {
	next := namedSource("ytdlp")
	next.On("Probe", mock.Anything).Return(nil)
	r := fastRetry(next, 1)
	assert.Equal(t, "ytdlp", r.Name())
	assert.NoError(t, r.Probe(context.Background()))
}
