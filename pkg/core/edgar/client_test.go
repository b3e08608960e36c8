package edgar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincache/pkg/models"
)

const testIdentity = "Fincache Tests tests@example.com"

const tickersJSON = `{"0":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."},
"1":{"cik_str":1000184,"ticker":"SAP","title":"SAP SE"}}`

const submissionsJSON = `{"cik":"320193","name":"Apple Inc.","tickers":["AAPL"],
"filings":{"recent":{
 "accessionNumber":["0000320193-24-000123","0000320193-24-000081","0000320193-24-000069"],
 "filingDate":["2024-11-01","2024-08-02","2024-05-03"],
 "reportDate":["2024-09-28","2024-06-29","2024-03-30"],
 "form":["10-K","10-Q","8-K"],
 "primaryDocument":["aapl-20240928.htm","aapl-20240629.htm","aapl-8k.htm"]}}}`

const factsJSON = `{"cik":320193,"entityName":"Apple Inc.","facts":{
 "dei":{"EntityCommonStockSharesOutstanding":{"label":"Shares","units":{"shares":[
   {"end":"2024-10-18","val":15116786000,"accn":"0000320193-24-000123","form":"10-K"}]}}},
 "us-gaap":{
  "Assets":{"label":"Assets","units":{"USD":[
    {"end":"2024-09-28","val":364980000000,"accn":"0000320193-24-000123","form":"10-K"},
    {"end":"2023-09-30","val":352583000000,"accn":"0000320193-24-000123","form":"10-K"},
    {"end":"2024-06-29","val":331612000000,"accn":"0000320193-24-000081","form":"10-Q"}]}},
  "NetIncomeLoss":{"label":"Net Income (Loss)","units":{"USD":[
    {"start":"2023-10-01","end":"2024-09-28","val":93736000000,"accn":"0000320193-24-000123","form":"10-K"}]}},
  "NetCashProvidedByUsedInOperatingActivities":{"label":"Operating cash","units":{"USD":[
    {"start":"2023-10-01","end":"2024-09-28","val":118254000000,"accn":"0000320193-24-000123","form":"10-K"}]}}
 }}}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tickersJSON))
	})
	mux.HandleFunc("/submissions/CIK0000320193.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(submissionsJSON))
	})
	mux.HandleFunc("/api/xbrl/companyfacts/CIK0000320193.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(factsJSON))
	})
	mux.HandleFunc("/doc.xml", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != testIdentity {
			http.Error(w, "missing identity", http.StatusForbidden)
			return
		}
		w.Write([]byte("<linkbase/>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(testIdentity, WithEndpoints(srv.URL, srv.URL), WithRateLimit(1000))
}

func TestLookupCIK(t *testing.T) {
	c := newTestClient(newTestServer(t))
	ctx := context.Background()

	cik, err := c.LookupCIK(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", cik)

	cik, err = c.LookupCIK(ctx, "320193")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", cik)

	_, err = c.LookupCIK(ctx, "NOPE")
	assert.Error(t, err)
}

func TestListFilings_FiltersForms(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(srv)

	filings, err := c.ListFilings(context.Background(), "AAPL", []models.FormKind{models.Form10K, models.Form10Q})
	require.NoError(t, err)
	require.Len(t, filings, 2)

	annual := filings[0]
	assert.Equal(t, "AAPL", annual.Entity)
	assert.Equal(t, models.Form10K, annual.Form)
	assert.Equal(t, "2024-11-01", annual.FilingDate)
	assert.Equal(t, 2024, annual.FiscalYear)
	assert.Equal(t, "FY", annual.FiscalPeriod)
	assert.Equal(t, models.StandardUSGAAP, annual.Standard)
	assert.False(t, annual.Foreign)
	assert.Equal(t, srv.URL+"/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm", annual.SourceURL)

	assert.Equal(t, "Q2", filings[1].FiscalPeriod)
}

func TestGetStatement_ClassifiesByPeriodAndConcept(t *testing.T) {
	c := newTestClient(newTestServer(t))
	ctx := context.Background()
	filing := models.Filing{Entity: "AAPL", Accession: "0000320193-24-000123"}

	bs, err := c.GetStatement(ctx, filing, models.BalanceSheet)
	require.NoError(t, err)
	require.Len(t, bs.Items, 1)
	assert.Equal(t, "us-gaap:Assets", bs.Items[0].Concept)
	assert.Equal(t, "364980000000", bs.Items[0].Values["2024-09-28"])
	assert.Equal(t, "352583000000", bs.Items[0].Values["2023-09-30"])
	assert.Equal(t, "USD", bs.Items[0].Units["2024-09-28"])
	assert.NotContains(t, bs.Items[0].Values, "2024-06-29", "other accession leaked in")

	is, err := c.GetStatement(ctx, filing, models.IncomeStatement)
	require.NoError(t, err)
	require.Len(t, is.Items, 1)
	assert.Equal(t, "us-gaap:NetIncomeLoss", is.Items[0].Concept)
	assert.Equal(t, "93736000000", is.Items[0].Values["2023-10-01_2024-09-28"])

	cf, err := c.GetStatement(ctx, filing, models.CashFlow)
	require.NoError(t, err)
	require.Len(t, cf.Items, 1)
	assert.Equal(t, "us-gaap:NetCashProvidedByUsedInOperatingActivities", cf.Items[0].Concept)

	_, err = c.GetStatement(ctx, filing, "notes")
	assert.Error(t, err)
}

func TestFetchDocument_SendsIdentity(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(srv)

	body, err := c.FetchDocument(context.Background(), srv.URL+"/doc.xml")
	require.NoError(t, err)
	assert.Equal(t, "<linkbase/>", string(body))

	_, err = c.FetchDocument(context.Background(), srv.URL+"/missing.xml")
	assert.Error(t, err)
}

func TestFetchError(t *testing.T) {
	inner := assert.AnError
	err := &FetchError{Entity: "ACME", Accession: "0001", Target: "income_statement", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "income_statement")
	assert.Contains(t, err.Error(), "0001")

	data, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"entity":"ACME","accession":"0001","target":"income_statement","error":"`+inner.Error()+`"}`, string(data))
}

func TestGetStatement_PrefersUSDAcrossUnits(t *testing.T) {
	const sapFacts = `{"cik":1000184,"entityName":"SAP SE","facts":{"ifrs-full":{
 "Revenue":{"label":"Revenue","units":{
  "EUR":[{"start":"2023-01-01","end":"2023-12-31","val":31207000000,"accn":"0001000184-24-000010","form":"20-F"},
         {"start":"2022-01-01","end":"2022-12-31","val":29520000000,"accn":"0001000184-24-000010","form":"20-F"}],
  "CHF":[{"start":"2022-01-01","end":"2022-12-31","val":29000000000,"accn":"0001000184-24-000010","form":"20-F"}],
  "USD":[{"start":"2023-01-01","end":"2023-12-31","val":33750000000,"accn":"0001000184-24-000010","form":"20-F"}]}}}}}`
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tickersJSON))
	})
	mux.HandleFunc("/api/xbrl/companyfacts/CIK0001000184.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sapFacts))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := newTestClient(srv)
	filing := models.Filing{Entity: "SAP", Accession: "0001000184-24-000010"}

	// Map order varies between runs; the outcome must not.
	for i := 0; i < 20; i++ {
		is, err := c.GetStatement(context.Background(), filing, models.IncomeStatement)
		require.NoError(t, err)
		require.Len(t, is.Items, 1)
		item := is.Items[0]
		assert.Equal(t, "33750000000", item.Values["2023-01-01_2023-12-31"])
		assert.Equal(t, "USD", item.Units["2023-01-01_2023-12-31"])
		assert.Equal(t, "29000000000", item.Values["2022-01-01_2022-12-31"])
		assert.Equal(t, "CHF", item.Units["2022-01-01_2022-12-31"])
	}
}

func TestUnitOrder(t *testing.T) {
	assert.Equal(t, []string{"USD", "CHF", "EUR", "JPY"},
		unitOrder(map[string][]factEntry{"JPY": nil, "EUR": nil, "USD": nil, "CHF": nil}))
	assert.Equal(t, []string{"EUR"}, unitOrder(map[string][]factEntry{"EUR": nil}))
}
