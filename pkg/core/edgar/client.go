package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fincache/pkg/models"
)

const (
	defaultDataURL = "https://data.sec.gov"
	defaultWWWURL  = "https://www.sec.gov"

	submissionsPath  = "/submissions/CIK%s.json"
	companyFactsPath = "/api/xbrl/companyfacts/CIK%s.json"
	companyTickers   = "/files/company_tickers.json"
	archivesPath     = "/Archives/edgar/data/%s/%s/%s"
)

// Client talks to SEC EDGAR. The identity string is sent as User-Agent, as
// required by the SEC fair-access policy.
type Client struct {
	identity   string
	httpClient *http.Client
	limiter    *rate.Limiter
	dataURL    string
	wwwURL     string
	logger     *zap.Logger

	mu      sync.Mutex
	tickers map[string]string        // ticker -> zero-padded CIK
	facts   map[string]*companyFacts // CIK -> facts, per client lifetime
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit sets the request rate (requests per second).
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	}
}

// WithEndpoints overrides the data.sec.gov and www.sec.gov base URLs.
func WithEndpoints(dataURL, wwwURL string) ClientOption {
	return func(c *Client) {
		c.dataURL = strings.TrimRight(dataURL, "/")
		c.wwwURL = strings.TrimRight(wwwURL, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates an EDGAR client sending identity as User-Agent.
func NewClient(identity string, opts ...ClientOption) *Client {
	c := &Client{
		identity:   identity,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		dataURL:    defaultDataURL,
		wwwURL:     defaultWWWURL,
		logger:     zap.NewNop(),
		facts:      make(map[string]*companyFacts),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// FILING INDEX
// =============================================================================

type submissions struct {
	CIK     string   `json:"cik"`
	Name    string   `json:"name"`
	Tickers []string `json:"tickers"`
	Filings struct {
		Recent recentFilings `json:"recent"`
	} `json:"filings"`
}

// recentFilings holds parallel arrays, one entry per filing.
type recentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// ListFilings implements Repository using the submissions API.
func (c *Client) ListFilings(ctx context.Context, entity string, forms []models.FormKind) ([]models.Filing, error) {
	entity = models.NormalizeEntity(entity)
	cik, err := c.LookupCIK(ctx, entity)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, c.dataURL+fmt.Sprintf(submissionsPath, cik))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch submissions for %s", entity)
	}
	var sub submissions
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, eris.Wrapf(err, "parse submissions for %s", entity)
	}

	wanted := make(map[models.FormKind]bool, len(forms))
	for _, f := range forms {
		wanted[f] = true
	}

	recent := sub.Filings.Recent
	out := make([]models.Filing, 0)
	for i := range recent.AccessionNumber {
		form := models.FormKind(at(recent.Form, i))
		if len(wanted) > 0 && !wanted[form] {
			continue
		}
		reportDate := at(recent.ReportDate, i)
		accession := recent.AccessionNumber[i]
		out = append(out, models.Filing{
			Entity:       entity,
			Form:         form,
			FilingDate:   at(recent.FilingDate, i),
			FiscalYear:   fiscalYear(reportDate, at(recent.FilingDate, i)),
			FiscalPeriod: fiscalPeriod(form, reportDate),
			Accession:    accession,
			SourceURL:    c.archiveURL(cik, accession, at(recent.PrimaryDocument, i)),
			Foreign:      form.IsForeign(),
			Standard:     models.StandardFor(form.IsForeign()),
		})
	}
	return out, nil
}

// LookupCIK resolves a ticker to a zero-padded CIK. Numeric entities are
// treated as CIKs already.
func (c *Client) LookupCIK(ctx context.Context, entity string) (string, error) {
	entity = models.NormalizeEntity(entity)
	if isDigits(entity) {
		return padCIK(entity), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tickers == nil {
		body, err := c.get(ctx, c.wwwURL+companyTickers)
		if err != nil {
			return "", eris.Wrap(err, "fetch company tickers")
		}
		var raw map[string]struct {
			CIK    int    `json:"cik_str"`
			Ticker string `json:"ticker"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return "", eris.Wrap(err, "parse company tickers")
		}
		c.tickers = make(map[string]string, len(raw))
		for _, e := range raw {
			c.tickers[strings.ToUpper(e.Ticker)] = fmt.Sprintf("%010d", e.CIK)
		}
		c.logger.Debug("loaded ticker map", zap.Int("tickers", len(c.tickers)))
	}
	cik, ok := c.tickers[entity]
	if !ok {
		return "", eris.Errorf("ticker %s not found in SEC database", entity)
	}
	return cik, nil
}

// FetchDocument implements Repository.
func (c *Client) FetchDocument(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url)
}

func (c *Client) archiveURL(cik, accession, doc string) string {
	if doc == "" {
		return ""
	}
	return c.wwwURL + fmt.Sprintf(archivesPath, strings.TrimLeft(cik, "0"), strings.ReplaceAll(accession, "-", ""), doc)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", c.identity)
	req.Header.Set("Accept", "application/json, application/xml, text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", url)
	}
	return body, nil
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

func padCIK(cik string) string {
	return fmt.Sprintf("%010s", strings.TrimLeft(cik, "0"))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// fiscalYear prefers the report (period end) date; annual reports filed in
// year N without a report date cover year N-1.
func fiscalYear(reportDate, filingDate string) int {
	if t, err := time.Parse(models.DateLayout, reportDate); err == nil {
		return t.Year()
	}
	if t, err := time.Parse(models.DateLayout, filingDate); err == nil {
		return t.Year() - 1
	}
	return 0
}

// fiscalPeriod labels annual forms "FY" and interims by calendar quarter of
// the period end.
func fiscalPeriod(form models.FormKind, reportDate string) string {
	if form.IsAnnual() {
		return "FY"
	}
	t, err := time.Parse(models.DateLayout, reportDate)
	if err != nil {
		return "Q"
	}
	return fmt.Sprintf("Q%d", (int(t.Month())-1)/3+1)
}
