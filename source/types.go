// Package source resolves candidate reference URLs for a set of symbols and
// fetches them as plain text documents.
//
// Fetching is tolerant: a failed fetch never returns an error to the caller.
// The document is marked unsuccessful, its text carries a diagnostic, and the
// typed cause is kept on Document.Err.
package source

import (
	"fmt"
	"time"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindNetwork ErrorKind = "network"
	KindStatus  ErrorKind = "status"
	KindParse   ErrorKind = "parse"
	KindBlocked ErrorKind = "blocked"
)

// FetchError describes why a document could not be fetched.
type FetchError struct {
	URL        string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d", e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Document is the outcome of fetching one URL.
type Document struct {
	URL       string      `json:"url"`
	Title     string      `json:"title,omitempty"`
	Text      string      `json:"text"`
	Success   bool        `json:"success"`
	FetchedAt time.Time   `json:"fetched_at"`
	Err       *FetchError `json:"-"`
}

// failedDocument builds the document recorded for a failed fetch.
func failedDocument(url string, fe *FetchError, at time.Time) Document {
	return Document{
		URL:       url,
		Text:      fmt.Sprintf("[fetch failed: %s: %s]", url, fe.Error()),
		Success:   false,
		FetchedAt: at,
		Err:       fe,
	}
}

// Successful returns the documents that were fetched successfully.
func Successful(docs []Document) []Document {
	var out []Document
	for _, d := range docs {
		if d.Success {
			out = append(out, d)
		}
	}
	return out
}
