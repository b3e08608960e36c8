// Package selector decides which filings must be fetched to cache an entity:
// the most recent annual filing plus the interim filings filed after it.
package selector

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"fincache/pkg/core/edgar"
	"fincache/pkg/models"
)

// DefaultInterimCap is the number of interim filings kept after the annual.
const DefaultInterimCap = 3

// ErrNotFound means the entity has no accepted annual filing.
var ErrNotFound = eris.New("no annual filing found")

// requestedForms is every form the selector can use, annual forms first.
var requestedForms = []models.FormKind{
	models.Form10K, models.Form20F, models.Form10Q, models.Form6K,
}

// Selection is the set of filings to cache for one entity.
type Selection struct {
	Entity   string
	Annual   models.Filing
	Interims []models.Filing
	Foreign  bool
	Standard models.Standard
}

// Filings returns the annual filing followed by the interims.
func (s Selection) Filings() []models.Filing {
	out := make([]models.Filing, 0, 1+len(s.Interims))
	out = append(out, s.Annual)
	return append(out, s.Interims...)
}

// Selector picks filings through a filing repository.
type Selector struct {
	repo       edgar.Repository
	InterimCap int
	logger     *zap.Logger
}

// New creates a Selector with the default interim cap.
func New(repo edgar.Repository, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{repo: repo, InterimCap: DefaultInterimCap, logger: logger}
}

// Select lists the entity's filings and picks the first annual filing in
// index order (the index is newest first), then the interims of the matching
// cadence filed strictly after it, in index order, up to InterimCap.
func (s *Selector) Select(ctx context.Context, entity string) (Selection, error) {
	entity = models.NormalizeEntity(entity)
	index, err := s.repo.ListFilings(ctx, entity, requestedForms)
	if err != nil {
		return Selection{}, eris.Wrapf(err, "list filings for %s", entity)
	}

	annualAt := -1
	for i, f := range index {
		if f.Form.IsAnnual() {
			annualAt = i
			break
		}
	}
	if annualAt < 0 {
		return Selection{}, eris.Wrapf(ErrNotFound, "entity %s", entity)
	}

	annual := index[annualAt]
	foreign := annual.Form.IsForeign()
	sel := Selection{
		Entity:   entity,
		Annual:   annual,
		Foreign:  foreign,
		Standard: models.StandardFor(foreign),
	}
	sel.Annual.Foreign = foreign
	sel.Annual.Standard = sel.Standard

	interim := annual.Form.Interim()
	limit := s.InterimCap
	if limit < 0 {
		limit = 0
	}
	for _, f := range index {
		if len(sel.Interims) >= limit {
			break
		}
		if f.Form != interim {
			continue
		}
		// Dates are YYYY-MM-DD so string order is date order.
		if f.FilingDate <= annual.FilingDate {
			continue
		}
		f.Foreign = foreign
		f.Standard = sel.Standard
		sel.Interims = append(sel.Interims, f)
	}

	s.logger.Debug("filings selected",
		zap.String("entity", entity),
		zap.String("annual", annual.FilingDate),
		zap.String("form", string(annual.Form)),
		zap.Int("interims", len(sel.Interims)))
	return sel, nil
}
