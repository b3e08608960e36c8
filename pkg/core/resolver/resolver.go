// Package resolver answers semantic metric queries ("revenue", "equity")
// from the cache without the caller knowing the filer's taxonomy.
package resolver

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"fincache/pkg/core/concept"
	"fincache/pkg/core/store"
	"fincache/pkg/models"
)

// Store is the part of the cache the resolver reads.
type Store interface {
	LatestValue(ctx context.Context, entity string, concepts ...string) (*models.LineItem, error)
	Search(ctx context.Context, q store.Query) ([]store.SearchHit, error)
	Standard(ctx context.Context, entity string) (models.Standard, error)
}

// Source says how a value was found.
type Source string

const (
	SourceConcept Source = "concept"
	SourceSearch  Source = "search"
)

// Resolution is a resolved metric value with its provenance.
type Resolution struct {
	Metric     string  `json:"metric"`
	Entity     string  `json:"entity"`
	Concept    string  `json:"concept"`
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	FilingDate string  `json:"filing_date"`
	Source     Source  `json:"source"`
}

// Resolver walks a concept.Map against the cache.
type Resolver struct {
	store    Store
	concepts *concept.Map
	logger   *zap.Logger
}

// New creates a Resolver. A nil map uses concept.Default().
func New(s Store, m *concept.Map, logger *zap.Logger) *Resolver {
	if m == nil {
		m = concept.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: s, concepts: m, logger: logger}
}

// Resolve returns the best cached value of metric for entity, or nil when
// there is no data. Errors are store failures only.
func (r *Resolver) Resolve(ctx context.Context, metric, entity string) (*float64, error) {
	res, err := r.ResolveItem(ctx, metric, entity)
	if err != nil || res == nil {
		return nil, err
	}
	v := res.Value
	return &v, nil
}

// ResolveItem is Resolve with provenance. Known metrics walk their concepts
// in priority order, the entity's own standard first, and every separator
// spelling of a concept is tried. An unknown metric falls back to a label
// search with limit 1.
func (r *Resolver) ResolveItem(ctx context.Context, metric, entity string) (*Resolution, error) {
	entity = models.NormalizeEntity(entity)

	if _, ok := r.concepts.Lookup(metric); !ok {
		return r.searchFallback(ctx, metric, entity)
	}

	standard, err := r.store.Standard(ctx, entity)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve %s for %s", metric, entity)
	}

	for _, c := range r.concepts.Concepts(metric, standard) {
		it, err := r.store.LatestValue(ctx, entity, concept.Variants(c)...)
		if err != nil {
			return nil, eris.Wrapf(err, "resolve %s for %s", metric, entity)
		}
		if it == nil {
			continue
		}
		r.logger.Debug("metric resolved",
			zap.String("entity", entity),
			zap.String("metric", metric),
			zap.String("concept", it.Concept))
		return &Resolution{
			Metric:     metric,
			Entity:     entity,
			Concept:    it.Concept,
			Label:      it.Label,
			Value:      it.Value,
			FilingDate: it.FilingDate,
			Source:     SourceConcept,
		}, nil
	}
	return nil, nil
}

func (r *Resolver) searchFallback(ctx context.Context, metric, entity string) (*Resolution, error) {
	hits, err := r.store.Search(ctx, store.Query{Term: metric, Entity: entity, Limit: 1})
	if err != nil {
		return nil, eris.Wrapf(err, "search %s for %s", metric, entity)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	h := hits[0]
	r.logger.Debug("metric resolved by search",
		zap.String("entity", entity),
		zap.String("metric", metric),
		zap.String("label", h.Label))
	return &Resolution{
		Metric:     metric,
		Entity:     entity,
		Concept:    h.Concept,
		Label:      h.Label,
		Value:      h.Value,
		FilingDate: h.FilingDate,
		Source:     SourceSearch,
	}, nil
}

// Compare resolves every metric for every entity. Missing data is a nil
// entry; the first store failure aborts.
func (r *Resolver) Compare(ctx context.Context, entities, metrics []string) (map[string]map[string]*float64, error) {
	out := make(map[string]map[string]*float64, len(entities))
	for _, e := range entities {
		entity := models.NormalizeEntity(e)
		row := make(map[string]*float64, len(metrics))
		for _, m := range metrics {
			v, err := r.Resolve(ctx, m, entity)
			if err != nil {
				return nil, err
			}
			row[m] = v
		}
		out[entity] = row
	}
	return out, nil
}
