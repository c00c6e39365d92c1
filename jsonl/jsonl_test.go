package jsonl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/dcshock/checkpipe/pipeline"
)

type rec struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func writeRecords(t *testing.T, dir string, recs ...rec) {
	t.Helper()
	w, err := NewWriter[rec](dir, map[string]string{"stage": "test"})
	require.NoError(t, err)
	p := pipeline.NewStreaming(pipeline.FromSlice("recs", recs), []pipeline.Task{w})
	require.NoError(t, p.Run(context.Background(), nil))
	require.Equal(t, len(recs), w.Count())
}

func TestWriterReader_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	in := []rec{{ID: "1", Text: "<a & b>"}, {ID: "2", Text: "two"}}
	writeRecords(t, dir, in...)

	require.True(t, pipeline.IsComplete(dir))
	require.NoError(t, pipeline.VerifyChecksum(dir))

	got, err := ReadAll[rec](dir)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, RecordsFile))
	require.NoError(t, err)
	require.Contains(t, string(data), "<a & b>")
}

func TestWriter_EmptyInput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	writeRecords(t, dir)
	require.True(t, pipeline.IsComplete(dir))
	got, err := ReadAll[rec](dir)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWriter_WrongType(t *testing.T) {
	w, err := NewWriter[rec](filepath.Join(t.TempDir(), "d"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Begin(context.Background()))
	_, err = w.Process(context.Background(), "not a rec")
	require.ErrorIs(t, err, pipeline.ErrPipeline)
	require.NoError(t, w.Close())
}

func TestWriter_FailedRunClosesRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "d")
	w, err := NewWriter[rec](dir, nil)
	require.NoError(t, err)
	errBoom := errors.New("boom")
	fail := pipeline.TaskFunc(func(ctx context.Context, v interface{}) (interface{}, error) { return nil, errBoom })

	p := pipeline.NewStreaming(pipeline.FromSlice("recs", []rec{{ID: "1"}}), []pipeline.Task{w, fail})
	require.ErrorIs(t, p.Run(context.Background(), nil), errBoom)
	require.Nil(t, w.f, "records file is released")
	require.False(t, pipeline.IsComplete(dir))
	require.NoFileExists(t, filepath.Join(dir, pipeline.ConfigFile))
	require.NoError(t, w.Close())
}

func TestWriter_RefusesCompleteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "d")
	writeRecords(t, dir, rec{ID: "1"})
	_, err := NewWriter[rec](dir, nil)
	require.ErrorIs(t, err, pipeline.ErrPipeline)
}

func TestReader_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"1\"}\n\n{oops\n"), 0o644))

	_, err := ReadAll[rec](path)
	require.ErrorIs(t, err, pipeline.ErrParse)
	require.ErrorContains(t, err, "line 3")
	require.ErrorContains(t, err, path)
}

func TestReader_Root(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrapped.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"doc":{"id":"1","text":"x"},"meta":{"n":1}}`+"\n"), 0o644))

	got, err := ReadAll[rec](path, WithRoot("doc"))
	require.NoError(t, err)
	require.Equal(t, []rec{{ID: "1", Text: "x"}}, got)

	_, err = ReadAll[rec](path, WithRoot("missing"))
	require.ErrorIs(t, err, pipeline.ErrParse)
}

func TestReader_Missing(t *testing.T) {
	_, err := NewReader[rec](filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestWriter_ReduceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "docs")
	shards := [][]rec{{{ID: "a"}, {ID: "b"}}, {{ID: "c"}}, {{ID: "d"}, {ID: "e"}}}
	for i, recs := range shards {
		writeRecords(t, filepath.Join(root, fmt.Sprintf("part%d", i)), recs...)
	}

	w, err := NewWriter[rec](root, nil)
	require.NoError(t, err)
	p := pipeline.NewStreaming(pipeline.FromSlice("none", []rec{}), []pipeline.Task{w})
	require.NoError(t, p.Begin(ctx))
	require.NoError(t, p.Reduce(ctx))
	require.NoError(t, p.Reduce(ctx))
	require.Equal(t, 5, w.Count())
	require.NoError(t, p.End(ctx))

	got, err := ReadAll[rec](root)
	require.NoError(t, err)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	require.True(t, pipeline.IsComplete(root))
}

func TestCodec(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c")
	var codec Codec[rec]
	w, err := codec.Writer(dir, nil)
	require.NoError(t, err)
	require.Equal(t, "JSONLWriter(c)", pipeline.NameOf(w))
	require.NoError(t, pipeline.NewBatch(pipeline.FromSlice("r", []rec{{ID: "x"}}), []pipeline.Task{w}, 0).Run(context.Background(), nil))

	src, err := codec.Reader(dir)
	require.NoError(t, err)
	items, err := pipeline.Collect(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, []interface{}{rec{ID: "x"}}, items)
	require.NoError(t, src.(*Reader[rec]).Close())
}
