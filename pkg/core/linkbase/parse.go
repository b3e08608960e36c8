// Package linkbase parses XBRL calculation linkbases into a weighted
// parent -> children concept graph and checks reported totals against the
// weighted sum of their components.
package linkbase

import (
	"encoding/xml"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"fincache/pkg/core/concept"
)

var (
	// ErrMalformed wraps XML that could not be parsed as a linkbase.
	ErrMalformed = eris.New("malformed calculation linkbase")
	// ErrUnavailable means no calculation linkbase could be located or parsed.
	ErrUnavailable = eris.New("calculation linkbase unavailable")
)

// Relationship is one weighted summation edge.
type Relationship struct {
	Parent string
	Child  string
	Weight float64 // +1 or -1 in practice
	Order  float64
}

// Graph holds relationships keyed by parent concept, each list sorted by
// Order ascending.
type Graph struct {
	children map[string][]Relationship
}

type locator struct {
	link  int
	label string
	href  string
}

type arc struct {
	link   int
	from   string
	to     string
	weight string
	order  string
}

// Parse reads a calculation linkbase.
//
// Pass 1 maps locator labels to concept ids (scoped per extended link, since
// labels are only unique within one). Pass 2 resolves every calculation arc
// through that map. Arcs whose labels do not resolve are skipped.
func Parse(r io.Reader) (*Graph, error) {
	locs, arcs, err := scan(r)
	if err != nil {
		return nil, err
	}

	type key struct {
		link  int
		label string
	}
	byLabel := make(map[key]string, len(locs))
	for _, l := range locs {
		id := conceptFromHref(l.href)
		if id == "" {
			continue
		}
		byLabel[key{l.link, l.label}] = id
	}

	g := &Graph{children: make(map[string][]Relationship)}
	seen := make(map[[2]string]bool)
	for _, a := range arcs {
		parent, ok := byLabel[key{a.link, a.from}]
		if !ok {
			continue
		}
		child, ok := byLabel[key{a.link, a.to}]
		if !ok {
			continue
		}
		// The same edge often repeats across presentation roles.
		if seen[[2]string{parent, child}] {
			continue
		}
		seen[[2]string{parent, child}] = true

		weight := 1.0
		if a.weight != "" {
			w, err := strconv.ParseFloat(strings.TrimSpace(a.weight), 64)
			if err != nil {
				return nil, eris.Wrapf(ErrMalformed, "arc %s->%s weight %q", a.from, a.to, a.weight)
			}
			weight = w
		}
		order, _ := strconv.ParseFloat(strings.TrimSpace(a.order), 64)

		g.children[parent] = append(g.children[parent], Relationship{
			Parent: parent,
			Child:  child,
			Weight: weight,
			Order:  order,
		})
	}

	for p := range g.children {
		rels := g.children[p]
		sort.SliceStable(rels, func(i, j int) bool { return rels[i].Order < rels[j].Order })
	}
	return g, nil
}

// scan walks the token stream collecting locators and calculation arcs.
// Element names are matched on their local part so any namespace prefix works.
func scan(r io.Reader) ([]locator, []arc, error) {
	dec := xml.NewDecoder(r)

	var (
		locs    []locator
		arcs    []arc
		link    = -1
		links   = 0
		sawRoot = false
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(ErrMalformed, err.Error())
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			if end, ok := tok.(xml.EndElement); ok && end.Name.Local == "calculationLink" {
				link = -1
			}
			continue
		}
		sawRoot = true
		switch start.Name.Local {
		case "calculationLink":
			link = links
			links++
		case "loc":
			locs = append(locs, locator{
				link:  link,
				label: attr(start.Attr, "label"),
				href:  attr(start.Attr, "href"),
			})
		case "calculationArc":
			arcs = append(arcs, arc{
				link:   link,
				from:   attr(start.Attr, "from"),
				to:     attr(start.Attr, "to"),
				weight: attr(start.Attr, "weight"),
				order:  attr(start.Attr, "order"),
			})
		}
	}
	if !sawRoot {
		return nil, nil, eris.Wrap(ErrMalformed, "empty document")
	}
	return locs, arcs, nil
}

func attr(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// conceptFromHref extracts the concept id from a locator href:
// "aapl-20240928.xsd#us-gaap_Assets" -> "us-gaap_Assets".
func conceptFromHref(href string) string {
	if i := strings.LastIndex(href, "#"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// ChildrenOf returns a copy of the relationships under parent. The id is
// tried as given, then with the alternate namespace separator.
func (g *Graph) ChildrenOf(parent string) []Relationship {
	if g == nil {
		return nil
	}
	for _, v := range concept.Variants(parent) {
		if rels, ok := g.children[v]; ok {
			return append([]Relationship(nil), rels...)
		}
	}
	return nil
}

// Parents returns every concept that has children, sorted.
func (g *Graph) Parents() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.children))
	for p := range g.children {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len is the number of relationships in the graph.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, rels := range g.children {
		n += len(rels)
	}
	return n
}
