package textstages

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dcshock/checkpipe/config"
	"github.com/dcshock/checkpipe/jsonl"
	"github.com/dcshock/checkpipe/pipeline"
)

// Register adds the text tasks, the concat join, the jsonl and lines sources and the
// jsonl checkpoint format to reg.
func Register(reg *config.Registry) {
	reg.RegisterTask("normalize", func(config.TaskSpec) (pipeline.Task, error) { return Normalize(), nil })
	reg.RegisterTask("lowercase", func(config.TaskSpec) (pipeline.Task, error) { return Lowercase(), nil })
	reg.RegisterTask("prefix", func(spec config.TaskSpec) (pipeline.Task, error) {
		var opts PrefixOptions
		if err := spec.Decode(&opts); err != nil {
			return nil, err
		}
		return Prefix(opts), nil
	})
	reg.RegisterTask("expect", func(spec config.TaskSpec) (pipeline.Task, error) {
		var opts ExpectOptions
		if err := spec.Decode(&opts); err != nil {
			return nil, err
		}
		return Expect(opts), nil
	})
	reg.RegisterTask("index", func(spec config.TaskSpec) (pipeline.Task, error) {
		if spec.Dir == "" {
			return nil, pipeline.ConfigErrorf("index: output directory required")
		}
		var opts IndexOptions
		if err := spec.Decode(&opts); err != nil {
			return nil, err
		}
		return NewIndex(spec.Dir, opts, spec.Artifact)
	})
	reg.RegisterJoin("concat", func(spec config.TaskSpec) (pipeline.Task, error) {
		var opts ConcatOptions
		if err := spec.Decode(&opts); err != nil {
			return nil, err
		}
		return Concat(opts), nil
	})

	reg.RegisterSource("jsonl", func(spec config.SourceSpec) (pipeline.Source, error) {
		var opts struct {
			Root string `yaml:"root"`
		}
		if err := spec.Decode(&opts); err != nil {
			return nil, err
		}
		if spec.Path == "" {
			return nil, pipeline.ConfigErrorf("jsonl source: path required")
		}
		return jsonl.NewReader[Doc](spec.Path, jsonl.WithRoot(opts.Root))
	})
	reg.RegisterSource("lines", func(spec config.SourceSpec) (pipeline.Source, error) {
		var opts struct {
			Lang string `yaml:"lang"`
		}
		if err := spec.Decode(&opts); err != nil {
			return nil, err
		}
		return OpenLines(spec.Path, opts.Lang)
	})

	reg.RegisterCodec("jsonl", jsonl.Codec[Doc]{})
}

// LineSource reads a plain text file as one Doc per non-blank line. Ids are line numbers.
type LineSource struct {
	path string
	lang string
	f    *os.File
	sc   *bufio.Scanner
	line int
}

// OpenLines opens path as a LineSource tagging every document with lang.
func OpenLines(path, lang string) (*LineSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lines source: %w", err)
	}
	return &LineSource{path: path, lang: lang, f: f, sc: bufio.NewScanner(f)}, nil
}

func (s *LineSource) Name() string { return fmt.Sprintf("Lines(%s)", s.path) }

func (s *LineSource) Next(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for s.sc.Scan() {
		s.line++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" {
			continue
		}
		return Doc{ID: strconv.Itoa(s.line), Lang: s.lang, Text: text}, nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return nil, io.EOF
}

func (s *LineSource) Close() error { return s.f.Close() }
