// Package pipeline wires the cache components into the operations callers
// use: get financials, resolve a metric, compare, search and verify.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fincache/pkg/core/concept"
	"fincache/pkg/core/edgar"
	"fincache/pkg/core/linkbase"
	"fincache/pkg/core/normalize"
	"fincache/pkg/core/resolver"
	"fincache/pkg/core/selector"
	"fincache/pkg/core/store"
	"fincache/pkg/core/telemetry"
	"fincache/pkg/core/validate"
	"fincache/pkg/models"
)

// Sources of a FinancialsResult.
const (
	SourceCache = "cache"
	SourceFetch = "fetch"
)

// DefaultMaxAge is the staleness window used when Config.MaxAge is zero.
const DefaultMaxAge = 7 * 24 * time.Hour

// verifyDepth bounds how far back VerifyCached looks for a prior filing.
const verifyDepth = 8

// ErrNotCached is returned by VerifyCached for an entity with no filings.
var ErrNotCached = eris.New("entity not cached")

// Config defines the refresh and validation behavior of a Service.
type Config struct {
	MaxAge        time.Duration // staleness window (default 7 days)
	InterimCap    int           // interims per entity (default selector.DefaultInterimCap)
	RejectInvalid bool          // if true, filings failing the completeness check are not cached
	CrossCheck    bool          // verify totals against the filing's calculation linkbase
	PartialSums   bool          // allow linkbase sums over a subset of children
	Tolerance     float64       // linkbase relative tolerance (default linkbase.DefaultTolerance)
}

// DefaultConfig returns the configuration used by NewService.
func DefaultConfig() Config {
	return Config{
		MaxAge:      DefaultMaxAge,
		InterimCap:  selector.DefaultInterimCap,
		CrossCheck:  true,
		PartialSums: true,
	}
}

// FilingReport is the outcome of checking one fetched filing.
type FilingReport struct {
	Filing    models.Filing               `json:"filing"`
	Report    validate.Report             `json:"report"`
	Linkbase  []linkbase.ValidationResult `json:"linkbase,omitempty"`
	Persisted bool                        `json:"persisted"`
	Dropped   int                         `json:"dropped"`
}

// FinancialsResult is the answer to GetFinancials.
type FinancialsResult struct {
	RunID         string               `json:"run_id"`
	Entity        string               `json:"entity"`
	Source        string               `json:"source"` // SourceCache or SourceFetch
	AgeDays       int                  `json:"age_days"`
	Periods       []store.PeriodBundle `json:"periods"`
	FetchFailures []*edgar.FetchError  `json:"fetch_failures,omitempty"`
	Reports       []FilingReport       `json:"reports,omitempty"`
}

// Service manages the end-to-end flow: staleness check, filing selection,
// fetch, normalize, validate, persist, and reads from the cache.
type Service struct {
	repo      edgar.Repository
	store     *store.Store
	selector  *selector.Selector
	resolver  *resolver.Resolver
	validator *validate.Validator
	locator   *linkbase.Locator
	recorder  telemetry.Recorder
	logger    *zap.Logger
	config    Config
}

// NewService creates a Service with DefaultConfig. A nil concept map uses
// concept.Default(); a nil recorder discards metrics.
func NewService(repo edgar.Repository, st *store.Store, concepts *concept.Map, recorder telemetry.Recorder, logger *zap.Logger) *Service {
	if concepts == nil {
		concepts = concept.Default()
	}
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	logger = telemetry.OrNop(logger)
	s := &Service{
		repo:      repo,
		store:     st,
		selector:  selector.New(repo, logger),
		resolver:  resolver.New(st, concepts, logger),
		validator: validate.New(concepts, logger),
		locator:   linkbase.NewLocator(repo, logger),
		recorder:  recorder,
		logger:    logger,
	}
	s.SetConfig(DefaultConfig())
	return s
}

// SetConfig updates the service configuration.
func (s *Service) SetConfig(cfg Config) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.InterimCap < 0 {
		cfg.InterimCap = 0
	}
	s.config = cfg
	s.selector.InterimCap = cfg.InterimCap
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.config }

// =============================================================================
// GET FINANCIALS
// =============================================================================

// GetFinancials returns up to periods cached filings of entity. When the
// cache is absent, stale, or forceRefresh is set, the filings chosen by the
// selector are fetched, checked and cached first. Statement fetch failures
// are collected in the result and never abort the other statements.
func (s *Service) GetFinancials(ctx context.Context, entity string, periods int, forceRefresh bool) (*FinancialsResult, error) {
	entity = models.NormalizeEntity(entity)
	res := &FinancialsResult{RunID: uuid.NewString(), Entity: entity}
	log := s.logger.With(zap.String("run_id", res.RunID), zap.String("entity", entity))

	status, err := s.store.Staleness(ctx, entity, s.config.MaxAge)
	if err != nil {
		return nil, err
	}
	switch {
	case !status.Cached:
		s.recorder.CacheLookup("miss")
	case status.Current:
		s.recorder.CacheLookup("hit")
	default:
		s.recorder.CacheLookup("stale")
	}

	if status.Current && !forceRefresh {
		log.Debug("serving from cache", zap.Int("age_days", status.AgeDays))
		return s.fromCache(ctx, res, status, periods)
	}

	sel, err := s.selector.Select(ctx, entity)
	if err != nil {
		s.recorder.FetchFailed("index")
		if status.Cached {
			log.Warn("refresh failed, serving stale cache", zap.Error(err))
			return s.fromCache(ctx, res, status, periods)
		}
		return nil, err
	}

	log.Info("refreshing cache",
		zap.String("annual", sel.Annual.FilingDate),
		zap.Int("interims", len(sel.Interims)),
		zap.Bool("force", forceRefresh))
	persisted := false
	for _, filing := range sel.Filings() {
		rep, failures, err := s.cacheFiling(ctx, filing)
		if err != nil {
			return nil, err
		}
		res.FetchFailures = append(res.FetchFailures, failures...)
		if rep != nil {
			res.Reports = append(res.Reports, *rep)
			persisted = persisted || rep.Persisted
		}
	}

	if !persisted && status.Cached {
		log.Warn("refresh cached nothing, serving stale cache", zap.Int("failures", len(res.FetchFailures)))
		return s.fromCache(ctx, res, status, periods)
	}

	if persisted {
		if status, err = s.store.Staleness(ctx, entity, s.config.MaxAge); err != nil {
			return nil, err
		}
		res.AgeDays = status.AgeDays
	}
	res.Source = SourceFetch
	res.Periods, err = s.store.Retrieve(ctx, entity, periods)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) fromCache(ctx context.Context, res *FinancialsResult, status store.CacheStatus, periods int) (*FinancialsResult, error) {
	bundles, err := s.store.Retrieve(ctx, res.Entity, periods)
	if err != nil {
		return nil, err
	}
	res.Source = SourceCache
	res.AgeDays = status.AgeDays
	res.Periods = bundles
	return res, nil
}

// cacheFiling fetches, normalizes and checks every statement of one filing,
// then persists what was fetched. A nil report means no statement could be
// fetched and nothing was cached. Only store failures are returned as errors.
func (s *Service) cacheFiling(ctx context.Context, filing models.Filing) (*FilingReport, []*edgar.FetchError, error) {
	log := s.logger.With(
		zap.String("entity", filing.Entity),
		zap.String("accession", filing.Accession),
		zap.String("form", string(filing.Form)))

	var (
		failures []*edgar.FetchError
		results  []normalize.Result
	)
	for _, kind := range models.StatementKinds {
		raw, err := s.repo.GetStatement(ctx, filing, kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil, failures, eris.Wrap(ctx.Err(), "fetch statements")
			}
			failures = append(failures, &edgar.FetchError{
				Entity:    filing.Entity,
				Accession: filing.Accession,
				Target:    string(kind),
				Err:       err,
			})
			s.recorder.FetchFailed("statement")
			log.Warn("statement fetch failed", zap.String("statement", string(kind)), zap.Error(err))
			continue
		}
		r := normalize.Statement(filing, raw)
		r.Kind = kind
		if r.Dropped > 0 {
			s.recorder.ValuesDropped(string(kind), r.Dropped)
			log.Debug("dropped non-numeric values", zap.String("statement", string(kind)), zap.Int("count", r.Dropped))
		}
		results = append(results, r)
	}
	if len(results) == 0 {
		log.Warn("no statements fetched, filing not cached")
		return nil, failures, nil
	}

	rep := &FilingReport{Filing: filing}
	set := make(validate.StatementSet, 0, len(results))
	for _, r := range results {
		set = append(set, validate.FromLineItems(r.Kind, r.Items, r.PriorValues))
		rep.Dropped += r.Dropped
	}
	rep.Report = s.VerifyCompleteness(set)
	if s.config.CrossCheck {
		rep.Linkbase = s.crossCheck(ctx, filing, results, &rep.Report)
	}

	if !rep.Report.Valid {
		log.Warn("completeness check failed",
			zap.Strings("errors", rep.Report.Errors),
			zap.Bool("reject", s.config.RejectInvalid))
		if s.config.RejectInvalid {
			return rep, failures, nil
		}
	}

	id, err := s.store.UpsertFiling(ctx, filing)
	if err != nil {
		return nil, failures, err
	}
	for _, r := range results {
		if err := s.store.ReplaceLineItems(ctx, id, r.Kind, r.Items); err != nil {
			return nil, failures, err
		}
	}
	rep.Persisted = true
	log.Info("filing cached",
		zap.Int64("filing_id", id),
		zap.Int("statements", len(results)),
		zap.Bool("valid", rep.Report.Valid))
	return rep, failures, nil
}

// crossCheck validates every reported parent total of the filing against its
// calculation linkbase. Mismatches become report warnings; a missing or
// malformed linkbase is logged and skipped.
func (s *Service) crossCheck(ctx context.Context, filing models.Filing, results []normalize.Result, rep *validate.Report) []linkbase.ValidationResult {
	log := s.logger.With(zap.String("entity", filing.Entity), zap.String("url", filing.SourceURL))

	graph, err := s.locator.Locate(ctx, filing.SourceURL)
	if err != nil {
		s.recorder.LinkbaseChecked("unavailable")
		log.Debug("calculation linkbase unavailable", zap.Error(err))
		return nil
	}

	values := make(map[string]float64)
	for _, r := range results {
		for _, it := range r.Items {
			values[it.Concept] = it.Value
		}
	}

	calc := linkbase.NewCalculator(graph, s.logger)
	calc.PartialSums = s.config.PartialSums

	var checked []linkbase.ValidationResult
	for _, parent := range graph.Parents() {
		vr := calc.Validate(values, parent, s.config.Tolerance)
		if vr.Reported == nil || vr.Calculated == nil {
			continue
		}
		checked = append(checked, vr)
		if vr.Valid {
			s.recorder.LinkbaseChecked("valid")
			continue
		}
		s.recorder.LinkbaseChecked("invalid")
		rep.Warnings = append(rep.Warnings, "calculation mismatch: "+concept.Canonical(parent)+
			" reported "+decimal.NewFromFloat(*vr.Reported).String()+
			", calculated "+decimal.NewFromFloat(*vr.Calculated).String()+
			" ("+string(vr.Confidence)+")")
	}
	log.Debug("calculation cross-check done", zap.Int("parents", len(checked)))
	return checked
}

// =============================================================================
// QUERIES
// =============================================================================

// GetMetric resolves a semantic metric for entity from the cache. It returns
// nil when the cache holds no matching item.
func (s *Service) GetMetric(ctx context.Context, metric, entity string) (*resolver.Resolution, error) {
	return s.resolver.ResolveItem(ctx, metric, entity)
}

// Compare resolves every metric for every entity from the cache.
func (s *Service) Compare(ctx context.Context, entities, metrics []string) (map[string]map[string]*float64, error) {
	return s.resolver.Compare(ctx, entities, metrics)
}

// Search runs a ranked substring search over cached line items.
func (s *Service) Search(ctx context.Context, q store.Query) ([]store.SearchHit, error) {
	return s.store.Search(ctx, q)
}

// Status reports the cache status of entity under the configured window.
func (s *Service) Status(ctx context.Context, entity string) (store.CacheStatus, error) {
	return s.store.Staleness(ctx, entity, s.config.MaxAge)
}

// Stats summarizes the cache.
func (s *Service) Stats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}

// =============================================================================
// VERIFY
// =============================================================================

// VerifyCompleteness checks a statement set and records the outcome.
func (s *Service) VerifyCompleteness(set validate.StatementSet) validate.Report {
	rep := s.validator.Check(set)
	s.recorder.Validation(rep.Valid)
	return rep
}

// VerifyCached checks the entity's most recent cached filing. Prior-period
// values come from the next older cached filing of the same form.
func (s *Service) VerifyCached(ctx context.Context, entity string) (validate.Report, error) {
	bundles, err := s.store.Retrieve(ctx, entity, verifyDepth)
	if err != nil {
		return validate.Report{}, err
	}
	if len(bundles) == 0 {
		return validate.Report{}, eris.Wrapf(ErrNotCached, "entity %s", models.NormalizeEntity(entity))
	}

	current := bundles[0]
	var prior *store.PeriodBundle
	for i := 1; i < len(bundles); i++ {
		if bundles[i].Filing.Form == current.Filing.Form {
			prior = &bundles[i]
			break
		}
	}

	set := make(validate.StatementSet, 0, len(models.StatementKinds))
	for _, kind := range models.StatementKinds {
		var priorValues map[string]float64
		if prior != nil {
			priorValues = make(map[string]float64)
			for _, it := range prior.Items(kind) {
				priorValues[it.Concept] = it.Value
			}
		}
		set = append(set, validate.FromLineItems(kind, current.Items(kind), priorValues))
	}
	return s.VerifyCompleteness(set), nil
}
