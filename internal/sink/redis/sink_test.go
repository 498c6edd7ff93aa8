package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

func TestWriteAppendsToList(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Config{Address: mr.Addr(), Key: "run:1"})
	require.NoError(t, err)

	first := record.Normalize(record.Raw{record.FieldName: "Bio Eck"}, "https://x.de/1", "80331")
	second := record.ErrorRecord("https://x.de/2", "80331", nil)
	require.NoError(t, s.Write(context.Background(), first))
	require.NoError(t, s.Write(context.Background(), second))

	items, err := mr.List("run:1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	var got record.Record
	require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
	require.Equal(t, first, got)
	require.NoError(t, json.Unmarshal([]byte(items[1]), &got))
	require.Equal(t, "unknown error", got.Error)

	require.NoError(t, s.Close())
}

func TestNewWithClientDefaultsKey(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Write(context.Background(), record.Normalize(nil, "https://x.de/1", "")))
	require.True(t, mr.Exists("shops"))
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = New(context.Background(), Config{Address: addr})
	require.ErrorContains(t, err, "redis ping failed")
}
