package linkbase

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads documents. edgar.Repository satisfies it.
type Fetcher interface {
	FetchDocument(ctx context.Context, url string) ([]byte, error)
}

// Locator finds and parses the calculation linkbase belonging to a filing.
type Locator struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewLocator creates a Locator.
func NewLocator(f Fetcher, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{fetcher: f, logger: logger}
}

// Locate tries the URL rewrites of Candidates in order, then scans the filing
// directory listing for a "_cal.xml" link. Fetch and parse failures are
// logged and never returned; when nothing works the error is ErrUnavailable.
func (l *Locator) Locate(ctx context.Context, docURL string) (*Graph, error) {
	if docURL == "" {
		return nil, eris.Wrap(ErrUnavailable, "no document url")
	}
	tried := make(map[string]bool)
	for _, candidate := range Candidates(docURL) {
		tried[candidate] = true
		if g, ok := l.tryParse(ctx, candidate); ok {
			return g, nil
		}
	}

	for _, candidate := range l.fromDirectory(ctx, docURL) {
		if tried[candidate] {
			continue
		}
		if g, ok := l.tryParse(ctx, candidate); ok {
			return g, nil
		}
	}
	return nil, eris.Wrapf(ErrUnavailable, "no calculation linkbase for %s", docURL)
}

func (l *Locator) tryParse(ctx context.Context, u string) (*Graph, bool) {
	body, err := l.fetcher.FetchDocument(ctx, u)
	if err != nil {
		l.logger.Debug("calculation linkbase fetch failed", zap.String("url", u), zap.Error(err))
		return nil, false
	}
	g, err := Parse(bytes.NewReader(body))
	if err != nil {
		l.logger.Warn("calculation linkbase parse failed", zap.String("url", u), zap.Error(err))
		return nil, false
	}
	if g.Len() == 0 {
		l.logger.Debug("calculation linkbase has no arcs", zap.String("url", u))
		return nil, false
	}
	return g, true
}

// Candidates returns the calculation linkbase URLs guessed from an instance
// or primary document URL:
//
//	.../aapl-20240928_htm.xml -> .../aapl-20240928_cal.xml
//	.../aapl-20240928.xml     -> .../aapl-20240928_cal.xml
//	.../aapl-20240928.htm     -> .../aapl-20240928_cal.xml
func Candidates(docURL string) []string {
	var out []string
	add := func(base string) {
		c := base + "_cal.xml"
		for _, existing := range out {
			if existing == c {
				return
			}
		}
		out = append(out, c)
	}

	lower := strings.ToLower(docURL)
	switch {
	case strings.HasSuffix(lower, "_cal.xml"):
		out = append(out, docURL)
	case strings.HasSuffix(lower, "_htm.xml"):
		add(docURL[:len(docURL)-len("_htm.xml")])
		add(docURL[:len(docURL)-len(".xml")])
	case strings.HasSuffix(lower, ".xml"):
		add(docURL[:len(docURL)-len(".xml")])
	case strings.HasSuffix(lower, ".html"):
		add(docURL[:len(docURL)-len(".html")])
	case strings.HasSuffix(lower, ".htm"):
		add(docURL[:len(docURL)-len(".htm")])
	}
	return out
}

// fromDirectory fetches the directory listing that holds docURL and returns
// every linked "_cal.xml" document as an absolute URL.
func (l *Locator) fromDirectory(ctx context.Context, docURL string) []string {
	base, err := url.Parse(docURL)
	if err != nil {
		return nil
	}
	dir := *base
	dir.Path = path.Dir(base.Path) + "/"
	dir.RawQuery = ""
	dir.Fragment = ""

	body, err := l.fetcher.FetchDocument(ctx, dir.String())
	if err != nil {
		l.logger.Debug("filing directory fetch failed", zap.String("url", dir.String()), zap.Error(err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasSuffix(strings.ToLower(href), "_cal.xml") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		out = append(out, dir.ResolveReference(ref).String())
	})
	return out
}
