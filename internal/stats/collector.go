// Package stats accumulates scalar values into distributional statistics.
package stats

import (
	"math"
	"sort"
	"strings"

	"harshagw/spanstats/internal/apperr"
)

// Type names one statistic.
type Type string

const (
	N                 Type = "n"
	Sum               Type = "sum"
	Mean              Type = "mean"
	Min               Type = "min"
	Max               Type = "max"
	SumSq             Type = "sumsq"
	SumOfLogs         Type = "sumoflogs"
	Variance          Type = "variance"
	StandardDeviation Type = "standarddeviation"
	GeometricMean     Type = "geometricmean"
	Median            Type = "median"
	All               Type = "all"
)

var allTypes = []Type{N, Sum, Mean, Min, Max, SumSq, SumOfLogs, Variance, StandardDeviation, GeometricMean, Median}

// ParseTypes parses a comma separated list of statistics. "all" expands to
// every statistic; an empty list means n and sum.
func ParseTypes(spec string) ([]Type, error) {
	seen := make(map[Type]bool)
	var types []Type
	add := func(t Type) {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	for _, part := range strings.Split(spec, ",") {
		name := Type(strings.ToLower(strings.TrimSpace(part)))
		switch {
		case name == "":
			continue
		case name == All:
			for _, t := range allTypes {
				add(t)
			}
		case isType(name):
			add(name)
		default:
			return nil, apperr.Invalidf("unknown statistic %q", part)
		}
	}
	if len(types) == 0 {
		return []Type{N, Sum}, nil
	}
	return types, nil
}

func isType(t Type) bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Result is the outcome of a collector. Values holds one entry per requested
// statistic that is defined for the collected values; Errors counts value
// failures by message.
type Result struct {
	Values map[string]float64 `json:"values"`
	Errors map[string]int     `json:"errors,omitempty"`
}

// Collector accumulates values for a fixed set of statistics. It is not
// safe for concurrent use.
type Collector struct {
	types []Type
	want  map[Type]bool

	n       int64
	sum     float64
	sumsq   float64
	sumlogs float64
	min     float64
	max     float64
	values  []float64

	aggregated bool
	errors     map[string]int
}

// NewCollector returns a collector for types; nil collects n and sum.
func NewCollector(types []Type) *Collector {
	if len(types) == 0 {
		types = []Type{N, Sum}
	}
	c := &Collector{
		types: types,
		want:  make(map[Type]bool, len(types)),
		min:   math.Inf(1),
		max:   math.Inf(-1),
	}
	for _, t := range types {
		c.want[t] = true
	}
	return c
}

// Types returns the requested statistics.
func (c *Collector) Types() []Type { return c.types }

// AcceptsAggregate reports whether only statistics derivable from a sum and
// a count are requested.
func (c *Collector) AcceptsAggregate() bool {
	for _, t := range c.types {
		if t != N && t != Sum && t != Mean {
			return false
		}
	}
	return true
}

// N returns the number of values collected.
func (c *Collector) N() int64 { return c.n }

// Add collects one value.
func (c *Collector) Add(v float64) {
	c.n++
	c.sum += v
	c.sumsq += v * v
	c.sumlogs += math.Log(v)
	if v < c.min {
		c.min = v
	}
	if v > c.max {
		c.max = v
	}
	if c.want[Median] {
		c.values = append(c.values, v)
	}
}

// AddValues collects a batch of values.
func (c *Collector) AddValues(values []float64) {
	for _, v := range values {
		c.Add(v)
	}
}

// AddAggregate collects n values known only by their sum. Only valid when
// AcceptsAggregate holds.
func (c *Collector) AddAggregate(sum float64, n int64) {
	c.n += n
	c.sum += sum
	c.aggregated = true
}

// AddError records a failed value.
func (c *Collector) AddError(err error) {
	if c.errors == nil {
		c.errors = make(map[string]int)
	}
	c.errors[err.Error()]++
}

// Errors returns the number of failed values.
func (c *Collector) Errors() int {
	total := 0
	for _, n := range c.errors {
		total += n
	}
	return total
}

// Merge adds the state of o, which must collect the same statistics.
func (c *Collector) Merge(o *Collector) {
	c.n += o.n
	c.sum += o.sum
	c.sumsq += o.sumsq
	c.sumlogs += o.sumlogs
	c.min = math.Min(c.min, o.min)
	c.max = math.Max(c.max, o.max)
	c.values = append(c.values, o.values...)
	c.aggregated = c.aggregated || o.aggregated
	for msg, n := range o.errors {
		if c.errors == nil {
			c.errors = make(map[string]int)
		}
		c.errors[msg] += n
	}
}

// Value returns one statistic and whether it is defined.
func (c *Collector) Value(t Type) (float64, bool) {
	n := float64(c.n)
	switch t {
	case N:
		return n, true
	case Sum:
		return c.sum, true
	}
	if c.n == 0 {
		return 0, false
	}
	switch t {
	case Mean:
		return c.sum / n, true
	}
	if c.aggregated {
		return 0, false
	}
	switch t {
	case Min:
		return c.min, true
	case Max:
		return c.max, true
	case SumSq:
		return c.sumsq, true
	case SumOfLogs:
		return c.sumlogs, true
	case GeometricMean:
		return math.Exp(c.sumlogs / n), true
	case Variance:
		return c.variance(), true
	case StandardDeviation:
		return math.Sqrt(c.variance()), true
	case Median:
		return median(c.values), true
	}
	return 0, false
}

// variance is the bias corrected sample variance.
func (c *Collector) variance() float64 {
	if c.n < 2 {
		return 0
	}
	n := float64(c.n)
	v := (c.sumsq - c.sum*c.sum/n) / (n - 1)
	if v < 0 {
		return 0
	}
	return v
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Result returns the defined statistics and recorded errors.
func (c *Collector) Result() Result {
	r := Result{Values: make(map[string]float64, len(c.types))}
	for _, t := range c.types {
		if v, ok := c.Value(t); ok {
			r.Values[string(t)] = v
		}
	}
	if len(c.errors) > 0 {
		r.Errors = make(map[string]int, len(c.errors))
		for msg, n := range c.errors {
			r.Errors[msg] = n
		}
	}
	return r
}
