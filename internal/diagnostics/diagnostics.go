// Package diagnostics holds positional diagnostics per document. The job
// server and the linter report 1-indexed line/column pairs; positions are
// stored 0-indexed, the way editors consume them.
package diagnostics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/proofsync/proofsync/internal/jobserver"
)

// Diagnostic is one positional marker on a document. Line and Column are
// 0-indexed.
type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// FromPositional converts the server's 1-indexed error list to 0-indexed
// diagnostics. Out-of-range input clamps to 0 rather than going negative.
func FromPositional(errs []jobserver.PositionalError) []Diagnostic {
	diags := make([]Diagnostic, 0, len(errs))
	for _, e := range errs {
		diags = append(diags, Diagnostic{
			Line:    max(e.Line-1, 0),
			Column:  max(e.Column-1, 0),
			Message: e.Message,
		})
	}
	return diags
}

// Format renders a diagnostic for terminal output, 1-indexed again for
// human consumption.
func (d Diagnostic) Format(doc string) string {
	return fmt.Sprintf("%s:%d:%d: %s", doc, d.Line+1, d.Column+1, d.Message)
}

// Store is a diagnostics collection keyed by document path.
type Store struct {
	mu    sync.Mutex
	byDoc map[string][]Diagnostic
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byDoc: make(map[string][]Diagnostic)}
}

// Publish replaces the document's diagnostic set wholesale. Publishing an
// empty or nil list clears the document.
func (s *Store) Publish(doc string, diags []Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(diags) == 0 {
		delete(s.byDoc, doc)
		return
	}
	s.byDoc[doc] = append([]Diagnostic(nil), diags...)
}

// Get returns the document's diagnostics, or nil.
func (s *Store) Get(doc string) []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Diagnostic(nil), s.byDoc[doc]...)
}

// Documents returns the paths that currently have diagnostics, sorted.
func (s *Store) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]string, 0, len(s.byDoc))
	for doc := range s.byDoc {
		docs = append(docs, doc)
	}
	sort.Strings(docs)
	return docs
}

// All returns a copy of the whole collection.
func (s *Store) All() map[string][]Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Diagnostic, len(s.byDoc))
	for doc, diags := range s.byDoc {
		out[doc] = append([]Diagnostic(nil), diags...)
	}
	return out
}

// Clear removes every document's diagnostics.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDoc = make(map[string][]Diagnostic)
}
