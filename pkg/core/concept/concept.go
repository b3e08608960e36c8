// Package concept maps semantic metric names ("revenue", "equity") to the
// taxonomy concepts that carry them under each accounting standard.
//
// A metric resolves to an ordered concept list: primary-standard concepts come
// first, fallback standards after. Callers never need to know which taxonomy a
// filer uses.
package concept

import (
	"sort"
	"strings"

	"fincache/pkg/models"
)

// Mapping is one semantic metric and its candidate concepts in priority order.
type Mapping struct {
	Metric    string               `yaml:"metric"`
	Statement models.StatementKind `yaml:"statement"`
	Concepts  []string             `yaml:"concepts"`
}

// Map is a read-only metric -> concept table.
type Map struct {
	byMetric map[string]Mapping
}

// New builds a Map from mappings. Later mappings for the same metric replace
// earlier ones. Metric names are matched case-insensitively.
func New(mappings ...Mapping) *Map {
	m := &Map{byMetric: make(map[string]Mapping, len(mappings))}
	for _, mp := range mappings {
		key := metricKey(mp.Metric)
		if key == "" {
			continue
		}
		mp.Metric = key
		mp.Concepts = append([]string(nil), mp.Concepts...)
		m.byMetric[key] = mp
	}
	return m
}

// Lookup returns the mapping for a metric.
func (m *Map) Lookup(metric string) (Mapping, bool) {
	mp, ok := m.byMetric[metricKey(metric)]
	return mp, ok
}

// Concepts returns the metric's concepts with the given standard's concepts
// moved to the front. Order within each group is preserved. A zero standard
// returns the table order unchanged.
func (m *Map) Concepts(metric string, standard models.Standard) []string {
	mp, ok := m.Lookup(metric)
	if !ok {
		return nil
	}
	out := append([]string(nil), mp.Concepts...)
	if standard == "" {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return inStandard(out[i], standard) && !inStandard(out[j], standard)
	})
	return out
}

// Metrics returns all known metric names, sorted.
func (m *Map) Metrics() []string {
	names := make([]string, 0, len(m.byMetric))
	for k := range m.byMetric {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Matches reports whether concept id is one of the metric's concepts,
// tolerating either namespace separator.
func (m *Map) Matches(metric, id string) bool {
	mp, ok := m.Lookup(metric)
	if !ok {
		return false
	}
	want := Canonical(id)
	for _, c := range mp.Concepts {
		if Canonical(c) == want {
			return true
		}
	}
	return false
}

// Variants returns id followed by its alternate namespace-separator forms:
// "ns:Name" -> ["ns:Name", "ns_Name"], "ns_Name" -> ["ns_Name", "ns:Name"].
// Only the first separator is considered the namespace boundary.
func Variants(id string) []string {
	out := []string{id}
	if i := strings.Index(id, ":"); i > 0 {
		out = append(out, id[:i]+"_"+id[i+1:])
		return out
	}
	if i := strings.Index(id, "_"); i > 0 {
		out = append(out, id[:i]+":"+id[i+1:])
	}
	return out
}

// Canonical returns the colon-separated form of a concept id.
func Canonical(id string) string {
	if strings.Contains(id, ":") {
		return id
	}
	if i := strings.Index(id, "_"); i > 0 {
		return id[:i] + ":" + id[i+1:]
	}
	return id
}

// Namespace returns the namespace prefix of a concept id ("us-gaap").
func Namespace(id string) string {
	id = Canonical(id)
	if i := strings.Index(id, ":"); i > 0 {
		return id[:i]
	}
	return ""
}

func inStandard(id string, standard models.Standard) bool {
	return Namespace(id) == string(standard)
}

func metricKey(metric string) string {
	return strings.ToLower(strings.TrimSpace(metric))
}
