package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"fincache/pkg/models"
)

// DefaultSearchLimit caps Search when Query.Limit is not positive.
const DefaultSearchLimit = 20

// PeriodBundle is one cached filing with its statements. A statement that
// was never cached is an empty slice.
type PeriodBundle struct {
	Filing     models.Filing                              `json:"filing"`
	Statements map[models.StatementKind][]models.LineItem `json:"statements"`
}

// Items returns the line items of one statement.
func (b PeriodBundle) Items(kind models.StatementKind) []models.LineItem {
	return b.Statements[kind]
}

// Query selects line items by substring.
type Query struct {
	Term      string
	Entity    string               // optional
	Statement models.StatementKind // optional; empty searches all statements
	Limit     int
}

// SearchHit is one ranked search result.
type SearchHit struct {
	models.LineItem
	Statement  models.StatementKind `json:"statement"`
	ExactLabel bool                 `json:"exact_label"`
}

const itemColumns = `filing_id, entity, filing_date, concept, label, value, currency, unit, level`

// InsertLineItems appends items to one statement of a filing in a single
// transaction. It does not deduplicate. Entity and filing date are taken
// from the filing row.
func (s *Store) InsertLineItems(ctx context.Context, filingID int64, kind models.StatementKind, items []models.LineItem) error {
	return s.writeItems(ctx, filingID, kind, items, false)
}

// ReplaceLineItems deletes the filing's existing items for one statement and
// inserts items, in one transaction. Re-caching a filing uses this so its
// rows are not duplicated.
func (s *Store) ReplaceLineItems(ctx context.Context, filingID int64, kind models.StatementKind, items []models.LineItem) error {
	return s.writeItems(ctx, filingID, kind, items, true)
}

func (s *Store) writeItems(ctx context.Context, filingID int64, kind models.StatementKind, items []models.LineItem, replace bool) (err error) {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var entity, filingDate string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT entity, filing_date FROM filings WHERE id = ?`), filingID).
		Scan(&entity, &filingDate)
	if err == sql.ErrNoRows {
		return eris.Errorf("filing %d not found", filingID)
	}
	if err != nil {
		return eris.Wrapf(err, "load filing %d", filingID)
	}

	if replace {
		if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE filing_id = ?`), filingID); err != nil {
			return eris.Wrapf(err, "clear %s for filing %d", table, filingID)
		}
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO `+table+` (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return eris.Wrapf(err, "prepare insert into %s", table)
	}
	defer stmt.Close()

	for _, it := range items {
		_, err = stmt.ExecContext(ctx, filingID, entity, filingDate,
			it.Concept, it.Label, it.Value, it.Currency, it.Unit, it.Level)
		if err != nil {
			return eris.Wrapf(err, "insert %s into %s", it.Concept, table)
		}
	}

	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "commit line items")
	}
	s.logger.Debug("line items cached",
		zap.Int64("filing_id", filingID),
		zap.String("statement", string(kind)),
		zap.Int("count", len(items)),
		zap.Bool("replace", replace))
	return nil
}

// Retrieve returns up to periods filings of entity, newest filing date
// first, each with its three statements. last_accessed is refreshed on the
// returned filings.
func (s *Store) Retrieve(ctx context.Context, entity string, periods int) ([]PeriodBundle, error) {
	entity = models.NormalizeEntity(entity)
	if periods <= 0 {
		return nil, nil
	}
	filings, err := s.filings(ctx, entity, periods)
	if err != nil {
		return nil, err
	}

	out := make([]PeriodBundle, 0, len(filings))
	for _, f := range filings {
		b := PeriodBundle{Filing: f, Statements: make(map[models.StatementKind][]models.LineItem, 3)}
		for _, kind := range models.StatementKinds {
			items, err := s.statementItems(ctx, f.ID, kind)
			if err != nil {
				return nil, err
			}
			b.Statements[kind] = items
		}
		out = append(out, b)
	}

	if err := s.touch(ctx, filings); err != nil {
		// Access tracking is bookkeeping; the read already succeeded.
		s.logger.Warn("update last_accessed failed", zap.String("entity", entity), zap.Error(err))
	}
	return out, nil
}

func (s *Store) statementItems(ctx context.Context, filingID int64, kind models.StatementKind) ([]models.LineItem, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+itemColumns+` FROM `+table+` WHERE filing_id = ? ORDER BY id`), filingID)
	if err != nil {
		return nil, eris.Wrapf(err, "query %s", table)
	}
	defer rows.Close()

	items := []models.LineItem{}
	for rows.Next() {
		var it models.LineItem
		if err := rows.Scan(&it.FilingID, &it.Entity, &it.FilingDate, &it.Concept, &it.Label,
			&it.Value, &it.Currency, &it.Unit, &it.Level); err != nil {
			return nil, eris.Wrapf(err, "scan %s", table)
		}
		items = append(items, it)
	}
	return items, eris.Wrapf(rows.Err(), "iterate %s", table)
}

func (s *Store) touch(ctx context.Context, filings []models.Filing) error {
	if len(filings) == 0 {
		return nil
	}
	ids := make([]any, 0, len(filings)+1)
	ids = append(ids, s.timestamp())
	for _, f := range filings {
		ids = append(ids, f.ID)
	}
	query := `UPDATE filings SET last_accessed = ? WHERE id IN (` + placeholders(len(filings)) + `)`
	_, err := s.db.ExecContext(ctx, s.rebind(query), ids...)
	return err
}

// LatestValue returns the most recent line item, across all three statement
// tables, whose concept is any of concepts. The concepts are treated as
// spellings of one fact, so callers pass separator variants together. It
// returns nil when nothing matches.
func (s *Store) LatestValue(ctx context.Context, entity string, concepts ...string) (*models.LineItem, error) {
	if len(concepts) == 0 {
		return nil, nil
	}
	entity = models.NormalizeEntity(entity)

	var (
		parts []string
		args  []any
	)
	for _, kind := range models.StatementKinds {
		table, _ := tableFor(kind)
		parts = append(parts, `SELECT `+itemColumns+` FROM `+table+
			` WHERE entity = ? AND concept IN (`+placeholders(len(concepts))+`)`)
		args = append(args, entity)
		for _, c := range concepts {
			args = append(args, c)
		}
	}
	query := `SELECT ` + itemColumns + ` FROM (` + strings.Join(parts, " UNION ALL ") +
		`) latest ORDER BY filing_date DESC, filing_id DESC LIMIT 1`

	var it models.LineItem
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&it.FilingID, &it.Entity, &it.FilingDate,
		&it.Concept, &it.Label, &it.Value, &it.Currency, &it.Unit, &it.Level)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "latest value for %s", entity)
	}
	return &it, nil
}

// Search matches q.Term as a case-insensitive substring of the label or the
// concept. Results rank exact label matches first, then newer filing dates.
// At most q.Limit hits are returned.
func (s *Store) Search(ctx context.Context, q Query) ([]SearchHit, error) {
	term := strings.TrimSpace(q.Term)
	if term == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	kinds := models.StatementKinds
	if q.Statement != "" {
		if _, err := tableFor(q.Statement); err != nil {
			return nil, err
		}
		kinds = []models.StatementKind{q.Statement}
	}

	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	entity := models.NormalizeEntity(q.Entity)

	var (
		parts []string
		args  []any
	)
	for _, kind := range kinds {
		table, _ := tableFor(kind)
		part := `SELECT ` + itemColumns + `, '` + string(kind) + `' AS statement,
			CASE WHEN LOWER(label) = ? THEN 1 ELSE 0 END AS exact
			FROM ` + table + `
			WHERE (LOWER(label) LIKE ? ESCAPE '\' OR LOWER(concept) LIKE ? ESCAPE '\')`
		args = append(args, strings.ToLower(term), pattern, pattern)
		if entity != "" {
			part += ` AND entity = ?`
			args = append(args, entity)
		}
		parts = append(parts, part)
	}
	query := `SELECT ` + itemColumns + `, statement, exact FROM (` + strings.Join(parts, " UNION ALL ") +
		`) hits ORDER BY exact DESC, filing_date DESC, filing_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "search %q", term)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var (
			h         SearchHit
			statement string
			exact     int
		)
		if err := rows.Scan(&h.FilingID, &h.Entity, &h.FilingDate, &h.Concept, &h.Label,
			&h.Value, &h.Currency, &h.Unit, &h.Level, &statement, &exact); err != nil {
			return nil, eris.Wrap(err, "scan search hit")
		}
		h.Statement = models.StatementKind(statement)
		h.ExactLabel = exact == 1
		hits = append(hits, h)
	}
	return hits, eris.Wrap(rows.Err(), "iterate search hits")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
