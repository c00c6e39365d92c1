package textstages

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dcshock/checkpipe/pipeline"
)

func docTask(name string, fn func(Doc) (Doc, error)) pipeline.Task {
	return pipeline.Func(name, func(ctx context.Context, d Doc) (Doc, error) {
		return fn(d)
	})
}

// Normalize collapses runs of whitespace in the text to single spaces and trims it.
func Normalize() pipeline.Task {
	return docTask("normalize", func(d Doc) (Doc, error) {
		d.Text = strings.Join(strings.Fields(d.Text), " ")
		return d, nil
	})
}

// Lowercase lowercases the text.
func Lowercase() pipeline.Task {
	return docTask("lowercase", func(d Doc) (Doc, error) {
		d.Text = strings.ToLower(d.Text)
		return d, nil
	})
}

type PrefixOptions struct {
	Prefix string `yaml:"prefix"`
}

// Prefix prepends a fixed string to the text.
func Prefix(opts PrefixOptions) pipeline.Task {
	return docTask("prefix", func(d Doc) (Doc, error) {
		d.Text = opts.Prefix + d.Text
		return d, nil
	})
}

// ExpectOptions are the checks Expect applies to every document.
type ExpectOptions struct {
	MinLength int      `yaml:"min_length"`
	Langs     []string `yaml:"langs"`
}

// Expect fails the run with a parse error on the first document without an id, shorter
// than MinLength runes or in a language outside Langs. Passing documents are unchanged.
func Expect(opts ExpectOptions) pipeline.Task {
	return docTask("expect", func(d Doc) (Doc, error) {
		if d.ID == "" {
			return Doc{}, pipeline.ParseErrorf("", "expect: document without id")
		}
		if n := utf8.RuneCountInString(d.Text); n < opts.MinLength {
			return Doc{}, pipeline.ParseErrorf(d.ID, "expect: text has %d runes, want at least %d", n, opts.MinLength)
		}
		if len(opts.Langs) > 0 && !slices.Contains(opts.Langs, d.Lang) {
			return Doc{}, pipeline.ParseErrorf(d.ID, "expect: language %q not in %v", d.Lang, opts.Langs)
		}
		return d, nil
	})
}

type ConcatOptions struct {
	Sep string `yaml:"sep"`
}

// Concat joins the documents of every split into one, in split order. The result keeps
// the id and language of the first split.
func Concat(opts ConcatOptions) pipeline.Task {
	sep := opts.Sep
	if sep == "" {
		sep = " "
	}
	return pipeline.Join("concat", func(ctx context.Context, item *pipeline.MultiplexItem) (interface{}, error) {
		var out Doc
		parts := make([]string, 0, item.Len())
		for name, v := range item.All() {
			d, ok := v.(Doc)
			if !ok {
				return nil, pipeline.PipelineErrorf("", "concat: split %q: expected Doc, got %T", name, v)
			}
			if len(parts) == 0 {
				out.ID, out.Lang = d.ID, d.Lang
			} else if d.ID != out.ID {
				return nil, pipeline.PipelineErrorf("", "concat: split %q holds document %q, want %q", name, d.ID, out.ID)
			}
			parts = append(parts, d.Text)
		}
		out.Text = strings.Join(parts, sep)
		return out, nil
	})
}

// describe is used in error messages about unexpected records.
func describe(v interface{}) string {
	if d, ok := v.(Doc); ok {
		return fmt.Sprintf("doc %q", d.ID)
	}
	return fmt.Sprintf("%T", v)
}
