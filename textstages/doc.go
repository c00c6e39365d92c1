// Package textstages provides tasks over text documents for config-built pipelines.
//
// Records are Doc values read from JSON lines. Register adds every task, the concat
// join, the jsonl and lines sources and the jsonl checkpoint format to a registry:
//
//	stages:
//	  - name: ingest
//	    source: {type: jsonl, path: data/docs.jsonl}
//	    tasks:
//	      - normalize
//	      - {type: expect, options: {min_length: 1}}
//	      - {type: lowercase, save: docs}
//	      - {type: index, output: index, depends_on: [docs]}
package textstages

// Doc is one text document.
type Doc struct {
	ID   string `json:"id" yaml:"id"`
	Lang string `json:"lang,omitempty" yaml:"lang,omitempty"`
	Text string `json:"text" yaml:"text"`
}
