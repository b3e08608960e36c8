package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincache/pkg/core/concept"
	"fincache/pkg/core/store"
	"fincache/pkg/models"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{DSN: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func cache(t *testing.T, s *store.Store, f models.Filing, kind models.StatementKind, items ...models.LineItem) {
	t.Helper()
	ctx := context.Background()
	id, err := s.UpsertFiling(ctx, f)
	require.NoError(t, err)
	require.NoError(t, s.InsertLineItems(ctx, id, kind, items))
}

func acme(date string) models.Filing {
	return models.Filing{Entity: "ACME", Form: models.Form10K, FilingDate: date}
}

func TestResolve_ConceptPriority(t *testing.T) {
	s := newStore(t)
	m := concept.New(concept.Mapping{
		Metric:    "widgets",
		Statement: models.BalanceSheet,
		Concepts:  []string{"acme:A", "acme:B"},
	})
	cache(t, s, acme("2024-01-01"), models.BalanceSheet,
		models.LineItem{Concept: "acme:B", Label: "Widgets", Value: 42})

	v, err := New(s, m, nil).Resolve(context.Background(), "widgets", "acme")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 42.0, *v)
}

func TestResolve_FirstConceptWins(t *testing.T) {
	s := newStore(t)
	m := concept.New(concept.Mapping{Metric: "widgets", Concepts: []string{"acme:A", "acme:B"}})
	cache(t, s, acme("2024-01-01"), models.BalanceSheet,
		models.LineItem{Concept: "acme:B", Value: 1},
		models.LineItem{Concept: "acme_A", Value: 2})

	res, err := New(s, m, nil).ResolveItem(context.Background(), "widgets", "ACME")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2.0, res.Value, "separator variant of the first concept")
	assert.Equal(t, SourceConcept, res.Source)
}

func TestResolve_SpansStatementsAndPeriods(t *testing.T) {
	s := newStore(t)
	cache(t, s, acme("2023-01-01"), models.IncomeStatement,
		models.LineItem{Concept: "us-gaap:NetIncomeLoss", Value: 80})
	cache(t, s, acme("2024-01-01"), models.IncomeStatement,
		models.LineItem{Concept: "us-gaap:NetIncomeLoss", Value: 95})

	v, err := New(s, nil, nil).Resolve(context.Background(), "net_income", "ACME")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 95.0, *v, "most recent filing")
}

func TestResolve_ForeignFilerPrefersIFRS(t *testing.T) {
	s := newStore(t)
	f := acme("2024-01-01")
	f.Form = models.Form20F
	f.Foreign = true
	cache(t, s, f, models.IncomeStatement,
		models.LineItem{Concept: "us-gaap:NetIncomeLoss", Value: 1},
		models.LineItem{Concept: "ifrs-full:ProfitLossAttributableToOwnersOfParent", Value: 7})

	v, err := New(s, nil, nil).Resolve(context.Background(), "net_income", "ACME")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 7.0, *v)
}

func TestResolve_NoData(t *testing.T) {
	s := newStore(t)

	v, err := New(s, nil, nil).Resolve(context.Background(), "revenue", "NOPE")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = New(s, nil, nil).Resolve(context.Background(), "made up metric", "NOPE")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolve_UnknownMetricSearchesLabels(t *testing.T) {
	s := newStore(t)
	cache(t, s, acme("2024-01-01"), models.IncomeStatement,
		models.LineItem{Concept: "acme:LicenseFees", Label: "License fees", Value: 12})

	res, err := New(s, nil, nil).ResolveItem(context.Background(), "license fees", "acme")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 12.0, res.Value)
	assert.Equal(t, SourceSearch, res.Source)
}

type failingStore struct{}

var errDown = errors.New("store down")

func (failingStore) LatestValue(context.Context, string, ...string) (*models.LineItem, error) {
	return nil, errDown
}
func (failingStore) Search(context.Context, store.Query) ([]store.SearchHit, error) {
	return nil, errDown
}
func (failingStore) Standard(context.Context, string) (models.Standard, error) { return "", nil }

func TestResolve_StoreErrorPropagates(t *testing.T) {
	r := New(failingStore{}, nil, nil)

	_, err := r.Resolve(context.Background(), "revenue", "ACME")
	assert.True(t, errors.Is(err, errDown))

	_, err = r.Resolve(context.Background(), "unknown", "ACME")
	assert.True(t, errors.Is(err, errDown))

	_, err = r.Compare(context.Background(), []string{"ACME"}, []string{"revenue"})
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	s := newStore(t)
	cache(t, s, acme("2024-01-01"), models.BalanceSheet,
		models.LineItem{Concept: "us-gaap:Assets", Value: 500})
	globex := models.Filing{Entity: "GLOBEX", Form: models.Form20F, FilingDate: "2024-03-01", Foreign: true}
	cache(t, s, globex, models.BalanceSheet,
		models.LineItem{Concept: "ifrs-full:Assets", Value: 900},
		models.LineItem{Concept: "ifrs-full:Liabilities", Value: 400})

	out, err := New(s, nil, nil).Compare(context.Background(),
		[]string{"acme", "globex"}, []string{"total_assets", "total_liabilities"})
	require.NoError(t, err)

	require.Contains(t, out, "ACME")
	require.Contains(t, out, "GLOBEX")
	assert.Equal(t, 500.0, *out["ACME"]["total_assets"])
	assert.Nil(t, out["ACME"]["total_liabilities"])
	assert.Equal(t, 900.0, *out["GLOBEX"]["total_assets"])
	assert.Equal(t, 400.0, *out["GLOBEX"]["total_liabilities"])
}
