// Package edgar defines the filing-repository contract consumed by the cache
// and an SEC EDGAR HTTP adapter implementing it.
//
// Only this package knows the upstream payload shapes. Everything it hands to
// the rest of the module is a Filing or a RawStatement.
package edgar

import (
	"context"
	"encoding/json"
	"fmt"

	"fincache/pkg/models"
)

// Repository is the external filing repository.
type Repository interface {
	// ListFilings returns the filing index for an entity restricted to forms,
	// newest first.
	ListFilings(ctx context.Context, entity string, forms []models.FormKind) ([]models.Filing, error)
	// GetStatement returns one statement payload of a filing.
	GetStatement(ctx context.Context, filing models.Filing, kind models.StatementKind) (*RawStatement, error)
	// FetchDocument downloads a document, used for calculation linkbases.
	FetchDocument(ctx context.Context, url string) ([]byte, error)
}

// RawStatement is the adapter-normalized statement payload.
type RawStatement struct {
	Kind  models.StatementKind
	Items []RawItem
}

// RawItem is one upstream line item. Values and Units are keyed by a period
// descriptor: "YYYY-MM-DD" for instants, "YYYY-MM-DD_YYYY-MM-DD" for durations.
type RawItem struct {
	Concept  string
	Label    string
	Abstract bool
	Level    int
	Values   map[string]string
	Units    map[string]string
}

// FetchError records a failed retrieval of one statement or document. It is
// collected per filing and never aborts sibling work.
type FetchError struct {
	Entity    string `json:"entity"`
	Accession string `json:"accession,omitempty"`
	Target    string `json:"target"` // statement kind, or "document"/"index"
	Err       error  `json:"-"`
}

func (e *FetchError) Error() string {
	if e.Accession == "" {
		return fmt.Sprintf("fetch %s for %s: %v", e.Target, e.Entity, e.Err)
	}
	return fmt.Sprintf("fetch %s for %s (%s): %v", e.Target, e.Entity, e.Accession, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MarshalJSON adds the error text, which encoding/json drops for an error
// value.
func (e *FetchError) MarshalJSON() ([]byte, error) {
	type plain FetchError
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		*plain
		Error string `json:"error"`
	}{(*plain)(e), msg})
}
