package rollinglog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackfillClamp(t *testing.T) {
	b := NewBackfill(nil, 1, 100, 25, testLogger())

	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero uses default", 0, 25},
		{"negative uses default", -3, 25},
		{"within range", 40, 40},
		{"minimum", 1, 1},
		{"above maximum", 500, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Clamp(tt.in))
		})
	}
}

func TestNewBackfillDefaults(t *testing.T) {
	b := NewBackfill(nil, 0, 0, 0, testLogger())
	assert.Equal(t, DefaultBackfillRequest, b.Clamp(0))
	assert.Equal(t, DefaultBackfillMax, b.Clamp(1000))
	assert.Equal(t, DefaultBackfillMin, b.Clamp(1))
}

func TestBackfillRespondFromWarmCache(t *testing.T) {
	repo := &memRepo{}
	l := Open(context.Background(), repo, 10, testLogger())
	appendRange(t, l, 1, 8)
	reads := repo.reads

	b := NewBackfill(l, 1, 100, 5, testLogger())
	got := b.Respond(context.Background(), 0)

	assert.Equal(t, []uint64{8, 7, 6, 5, 4}, sequenceIDs(got))
	assert.Equal(t, reads, repo.reads)
}

func TestBackfillRespondBeyondCacheReadsStorage(t *testing.T) {
	repo := &memRepo{}
	l := Open(context.Background(), repo, 3, testLogger())
	appendRange(t, l, 1, 8)

	b := NewBackfill(l, 1, 100, 25, testLogger())
	got := b.Respond(context.Background(), 6)

	assert.Equal(t, []uint64{8, 7, 6, 5, 4, 3}, sequenceIDs(got))
}

func TestBackfillRespondStorageFailureServesCache(t *testing.T) {
	repo := &memRepo{}
	l := Open(context.Background(), repo, 3, testLogger())
	appendRange(t, l, 1, 8)
	repo.failRead = true

	b := NewBackfill(l, 1, 100, 25, testLogger())
	got := b.Respond(context.Background(), 6)

	assert.Equal(t, []uint64{8, 7, 6}, sequenceIDs(got))
}

func TestBackfillSince(t *testing.T) {
	l := Open(context.Background(), &memRepo{}, 10, testLogger())
	appendRange(t, l, 1, 8)

	b := NewBackfill(l, 1, 3, 2, testLogger())
	got, err := b.Since(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6, 7, 8}, sequenceIDs(got))

	got, err = b.Since(context.Background(), 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBackfillSincePagesThroughStorage(t *testing.T) {
	repo := &memRepo{}
	l := Open(context.Background(), repo, 4, testLogger())
	appendRange(t, l, 1, 20)

	b := NewBackfill(l, 1, 5, 2, testLogger())
	got, err := b.Since(context.Background(), 2)
	require.NoError(t, err)

	want := make([]uint64, 0, 18)
	for seq := uint64(3); seq <= 20; seq++ {
		want = append(want, seq)
	}
	assert.Equal(t, want, sequenceIDs(got))
	assert.Greater(t, repo.reads, 2)
}

func TestBackfillSinceStorageFailure(t *testing.T) {
	repo := &memRepo{}
	l := Open(context.Background(), repo, 2, testLogger())
	appendRange(t, l, 1, 10)
	repo.failRead = true

	b := NewBackfill(l, 1, 3, 2, testLogger())
	_, err := b.Since(context.Background(), 1)
	assert.Error(t, err)
}
