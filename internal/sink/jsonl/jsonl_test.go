package jsonl_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/sink/jsonl"
)

func TestOpenFileWritesOneRecordPerLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := jsonl.OpenFile(path)
	require.NoError(t, err)

	records := []crawler.Record{
		{ID: "1", Title: "标题", Content: "a & b", RawContent: `<div class="detail">a &amp; b</div>`},
		{ID: "2", Title: "two", Content: "line\nbreak", RawContent: "<div></div>"},
	}
	for _, r := range records {
		require.NoError(t, s.Write(context.Background(), r))
	}
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []map[string]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]string
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		got = append(got, row)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	assert.Equal(t, map[string]string{
		"id":          "1",
		"title":       "标题",
		"content":     "a & b",
		"content-raw": `<div class="detail">a &amp; b</div>`,
	}, got[0])
	assert.Equal(t, "line\nbreak", got[1]["content"])
}

func TestOpenFileTruncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("stale contents\n"), 0o600))

	s, err := jsonl.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestOpenFileErrors(t *testing.T) {
	t.Parallel()

	_, err := jsonl.OpenFile("  ")
	require.Error(t, err)

	_, err = jsonl.OpenFile(filepath.Join(t.TempDir(), "missing", "out.jsonl"))
	require.ErrorContains(t, err, "open output file")
}
