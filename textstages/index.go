package textstages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dcshock/checkpipe/pipeline"
)

// IndexFile holds the term index inside an index directory.
const IndexFile = "index.json"

// IndexOptions configures Index.
type IndexOptions struct {
	// MinTermLength drops shorter terms.
	MinTermLength int `yaml:"min_term_length"`
}

// Index is a pass-through task that builds an inverted index from terms to the ids of
// the documents containing them, and writes it to dir/index.json when it ends.
type Index struct {
	*pipeline.Artifact
	opts  IndexOptions
	terms map[string][]string
	docs  int
}

// NewIndex creates dir and returns an empty index.
func NewIndex(dir string, opts IndexOptions, artifact interface{}) (*Index, error) {
	a, err := pipeline.NewArtifact(dir, artifact)
	if err != nil {
		return nil, err
	}
	return &Index{Artifact: a, opts: opts, terms: make(map[string][]string)}, nil
}

func (x *Index) Name() string { return "index" }

func (x *Index) Begin(ctx context.Context) error {
	x.terms = make(map[string][]string)
	x.docs = 0
	return nil
}

func (x *Index) Process(ctx context.Context, item interface{}) (interface{}, error) {
	d, ok := item.(Doc)
	if !ok {
		return nil, pipeline.PipelineErrorf(x.Dir(), "index: expected Doc, got %s", describe(item))
	}
	seen := make(map[string]struct{})
	for _, term := range strings.Fields(d.Text) {
		if len(term) < x.opts.MinTermLength {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		x.terms[term] = append(x.terms[term], d.ID)
	}
	x.docs++
	return item, nil
}

// Terms returns the ids of the documents containing term, in input order.
func (x *Index) Terms(term string) []string {
	return slices.Clone(x.terms[term])
}

// Docs is the number of documents indexed.
func (x *Index) Docs() int { return x.docs }

// IndexData is the on-disk form of an index.
type IndexData struct {
	Docs  int                 `json:"docs"`
	Terms map[string][]string `json:"terms"`
}

func (x *Index) End(ctx context.Context) error {
	data, err := json.Marshal(IndexData{Docs: x.docs, Terms: x.terms})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := pipeline.WriteFileDurable(x.Path(IndexFile), data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return x.Finalize()
}

// Reduce rebuilds the index from the shard indexes, appending postings in shard order.
func (x *Index) Reduce(ctx context.Context, dirs []string) error {
	x.terms = make(map[string][]string)
	x.docs = 0
	for _, dir := range dirs {
		shard, err := ReadIndex(dir)
		if err != nil {
			return err
		}
		x.docs += shard.Docs
		for term, ids := range shard.Terms {
			x.terms[term] = append(x.terms[term], ids...)
		}
	}
	return nil
}

// ReadIndex loads the index written to dir.
func ReadIndex(dir string) (*IndexData, error) {
	path := filepath.Join(dir, IndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pipeline.PipelineErrorf(dir, "no %s", IndexFile)
		}
		return nil, err
	}
	var out IndexData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, pipeline.ParseErrorf(path, "index: %v", err)
	}
	return &out, nil
}
