package linkbase

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fincache/pkg/core/concept"
)

// Confidence tags a calculated value.
type Confidence string

const (
	// Exact means every child of the parent had a value.
	Exact Confidence = "exact"
	// Partial means at least one child was missing from the sum.
	Partial Confidence = "partial"
)

// DefaultTolerance is the relative tolerance used by Validate when the
// caller passes zero.
const DefaultTolerance = 0.01

// Computed is a weighted sum of a parent's children.
type Computed struct {
	Value      float64
	Confidence Confidence
	Missing    []string // children with no value, in Order
}

// Calculator evaluates a Graph against concept values.
type Calculator struct {
	graph *Graph
	// PartialSums allows a sum over a subset of children. When false, any
	// missing child makes the parent not computable.
	PartialSums bool
	logger      *zap.Logger
}

// NewCalculator returns a Calculator with partial sums enabled.
func NewCalculator(g *Graph, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{graph: g, PartialSums: true, logger: logger}
}

// ComputeParent sums weight*value over parent's children. It reports false
// when no child has a value, or when a child is missing and partial sums are
// disabled.
func (c *Calculator) ComputeParent(values map[string]float64, parent string) (Computed, bool) {
	rels := c.graph.ChildrenOf(parent)
	if len(rels) == 0 {
		return Computed{}, false
	}

	sum := decimal.Zero
	found := 0
	var missing []string
	for _, r := range rels {
		v, ok := lookup(values, r.Child)
		if !ok {
			missing = append(missing, r.Child)
			continue
		}
		found++
		sum = sum.Add(decimal.NewFromFloat(v).Mul(decimal.NewFromFloat(r.Weight)))
	}
	if found == 0 {
		return Computed{}, false
	}

	out := Computed{Confidence: Exact}
	out.Value, _ = sum.Float64()
	if len(missing) > 0 {
		if !c.PartialSums {
			return Computed{}, false
		}
		out.Confidence = Partial
		out.Missing = missing
		c.logger.Debug("partial calculation",
			zap.String("parent", parent),
			zap.Int("children", len(rels)),
			zap.Strings("missing", missing))
	}
	return out, true
}

// ValidationResult compares a reported parent with its calculated value.
type ValidationResult struct {
	Parent     string     `json:"parent"`
	Valid      bool       `json:"valid"`
	Reported   *float64   `json:"reported"`
	Calculated *float64   `json:"calculated"`
	Confidence Confidence `json:"confidence"`
	Missing    []string   `json:"missing,omitempty"`
}

// Validate checks the reported parent value against the weighted sum of its
// children. A missing reported value or no computable children gives an
// invalid result, not an error. Magnitudes below 1.0 compare with absolute
// tolerance, everything else with relative tolerance.
func (c *Calculator) Validate(values map[string]float64, parent string, tolerance float64) ValidationResult {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	res := ValidationResult{Parent: parent}

	if v, ok := lookup(values, parent); ok {
		res.Reported = &v
	}
	computed, ok := c.ComputeParent(values, parent)
	if ok {
		res.Calculated = &computed.Value
		res.Confidence = computed.Confidence
		res.Missing = computed.Missing
	}
	if res.Reported == nil || res.Calculated == nil {
		return res
	}
	res.Valid = WithinTolerance(*res.Reported, *res.Calculated, tolerance)
	return res
}

// WithinTolerance reports whether calculated matches reported: absolute
// difference when |reported| < 1, relative difference otherwise.
func WithinTolerance(reported, calculated, tolerance float64) bool {
	diff := math.Abs(reported - calculated)
	if math.Abs(reported) < 1.0 {
		return diff <= tolerance
	}
	return diff/math.Abs(reported) <= tolerance
}

func lookup(values map[string]float64, id string) (float64, bool) {
	for _, v := range concept.Variants(id) {
		if val, ok := values[v]; ok {
			return val, true
		}
	}
	return 0, false
}
