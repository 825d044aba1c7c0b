package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	t.Run("missing key returns nil without error", func(t *testing.T) {
		v, err := s.Get(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", []byte("value")))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), v)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", []byte("v2")))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("remove deletes and is idempotent", func(t *testing.T) {
		require.NoError(t, s.Remove(ctx, "k"))
		require.NoError(t, s.Remove(ctx, "k"))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("get copies are isolated from the store", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "iso", []byte("abc")))
		v, err := s.Get(ctx, "iso")
		require.NoError(t, err)
		v[0] = 'x'

		again, err := s.Get(ctx, "iso")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})
}

func TestSnapshotCodec(t *testing.T) {
	type record struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
		Notes string  `json:"notes"`
	}

	t.Run("small payloads stay plain JSON", func(t *testing.T) {
		data, err := Marshal(record{ID: "a", Score: 0.5})
		require.NoError(t, err)
		assert.Equal(t, byte('{'), data[0])

		var out record
		require.NoError(t, Unmarshal(data, &out))
		assert.Equal(t, "a", out.ID)
	})

	t.Run("large payloads compress and round-trip", func(t *testing.T) {
		in := record{ID: "b", Score: 0.9, Notes: strings.Repeat("outage ", 500)}
		data, err := Marshal(in)
		require.NoError(t, err)
		assert.Less(t, len(data), len(in.Notes))

		var out record
		require.NoError(t, Unmarshal(data, &out))
		assert.Equal(t, in, out)
	})

	t.Run("empty payload is an error", func(t *testing.T) {
		var out record
		assert.Error(t, Unmarshal(nil, &out))
	})

	t.Run("corrupt payload is an error", func(t *testing.T) {
		var out record
		assert.Error(t, Unmarshal([]byte("not-json"), &out))
	})
}
