package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincache/pkg/core/edgar"
	"fincache/pkg/models"
)

type fakeRepo struct {
	index []models.Filing
	err   error
	forms []models.FormKind
}

func (f *fakeRepo) ListFilings(_ context.Context, _ string, forms []models.FormKind) ([]models.Filing, error) {
	f.forms = forms
	return f.index, f.err
}

func (f *fakeRepo) GetStatement(context.Context, models.Filing, models.StatementKind) (*edgar.RawStatement, error) {
	return nil, errors.New("not used")
}

func (f *fakeRepo) FetchDocument(context.Context, string) ([]byte, error) {
	return nil, errors.New("not used")
}

func filing(form models.FormKind, date string) models.Filing {
	return models.Filing{Entity: "ACME", Form: form, FilingDate: date}
}

func TestSelect_DomesticCadence(t *testing.T) {
	repo := &fakeRepo{index: []models.Filing{
		filing(models.Form10Q, "2024-11-01"),
		filing(models.Form10Q, "2024-08-01"),
		filing(models.Form10Q, "2024-05-01"),
		filing(models.Form10Q, "2024-04-15"),
		filing(models.Form10K, "2024-02-01"),
		filing(models.Form10Q, "2023-11-01"),
		filing(models.Form10K, "2023-02-01"),
	}}

	sel, err := New(repo, nil).Select(context.Background(), " acme ")
	require.NoError(t, err)

	assert.Equal(t, "ACME", sel.Entity)
	assert.Equal(t, "2024-02-01", sel.Annual.FilingDate)
	assert.False(t, sel.Foreign)
	assert.Equal(t, models.StandardUSGAAP, sel.Standard)
	require.Len(t, sel.Interims, 3, "capped at three")
	assert.Equal(t, "2024-11-01", sel.Interims[0].FilingDate)
	assert.Equal(t, "2024-05-01", sel.Interims[2].FilingDate)
	assert.Len(t, sel.Filings(), 4)
	assert.Equal(t, []models.FormKind{models.Form10K, models.Form20F, models.Form10Q, models.Form6K}, repo.forms)
}

func TestSelect_ForeignCadence(t *testing.T) {
	repo := &fakeRepo{index: []models.Filing{
		filing(models.Form6K, "2024-09-01"),
		filing(models.Form10Q, "2024-08-01"),
		filing(models.Form20F, "2024-04-01"),
		filing(models.Form6K, "2024-04-01"),
	}}

	sel, err := New(repo, nil).Select(context.Background(), "acme")
	require.NoError(t, err)

	assert.True(t, sel.Foreign)
	assert.Equal(t, models.StandardIFRS, sel.Standard)
	assert.Equal(t, models.StandardIFRS, sel.Annual.Standard)
	require.Len(t, sel.Interims, 1, "same-day interim and other cadence excluded")
	assert.Equal(t, models.Form6K, sel.Interims[0].Form)
	assert.True(t, sel.Interims[0].Foreign)
}

func TestSelect_InterimCap(t *testing.T) {
	repo := &fakeRepo{index: []models.Filing{
		filing(models.Form10Q, "2024-11-01"),
		filing(models.Form10Q, "2024-08-01"),
		filing(models.Form10K, "2024-02-01"),
	}}
	s := New(repo, nil)

	s.InterimCap = 1
	sel, err := s.Select(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Len(t, sel.Interims, 1)

	s.InterimCap = 0
	sel, err = s.Select(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Empty(t, sel.Interims)
}

func TestSelect_NotFound(t *testing.T) {
	repo := &fakeRepo{index: []models.Filing{
		filing(models.Form10Q, "2024-11-01"),
		filing("10-K/A", "2024-03-01"),
	}}

	_, err := New(repo, nil).Select(context.Background(), "ACME")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSelect_RepositoryError(t *testing.T) {
	boom := errors.New("upstream down")
	_, err := New(&fakeRepo{err: boom}, nil).Select(context.Background(), "ACME")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, ErrNotFound))
}
