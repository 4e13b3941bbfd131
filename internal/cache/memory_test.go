package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	b, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), b)

	now = now.Add(2 * time.Minute)
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreNoTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	_, found, _ := s.Get(ctx, "k")
	assert.True(t, found)

	require.NoError(t, s.Delete(ctx, "k"))
	_, found, _ = s.Get(ctx, "k")
	assert.False(t, found)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type payload struct {
		Score float64 `json:"score"`
	}
	require.NoError(t, SetJSON(ctx, s, "p", payload{Score: 87.5}, time.Hour))

	var got payload
	found, err := GetJSON(ctx, s, "p", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 87.5, got.Score)

	found, err = GetJSON(ctx, s, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
