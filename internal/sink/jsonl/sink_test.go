// Package jsonl_test tests the newline-delimited JSON sink.
package jsonl_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/jsonl"
)

func TestNew(t *testing.T) {
	t.Run("MissingPath", func(t *testing.T) {
		_, err := jsonl.New(jsonl.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesParentDirectories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a", "b", "shops.jsonl")
		s, err := jsonl.New(jsonl.Config{Path: path})
		require.NoError(t, err)
		require.NoError(t, s.Close())
		_, err = os.Stat(path)
		assert.NoError(t, err)
	})
}

func TestWriteAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shops.jsonl")
	ctx := context.Background()

	for _, u := range []string{"https://x.de/1", "https://x.de/2"} {
		s, err := jsonl.New(jsonl.Config{Path: path})
		require.NoError(t, err)
		require.NoError(t, s.Write(ctx, record.Normalize(record.Raw{record.FieldCity: "München"}, u, "80331")))
		require.NoError(t, s.Close())
	}

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		assert.Nil(t, m["email"])
		urls = append(urls, m["sourceUrl"].(string))
	}
	assert.Equal(t, []string{"https://x.de/1", "https://x.de/2"}, urls)
	assert.Contains(t, string(data), "München")
}

func TestWriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	s := jsonl.NewWriter(&buf)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Error(t, s.Write(context.Background(), record.Record{SourceURL: "https://x.de"}))
}
