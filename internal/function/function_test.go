package function

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harshagw/spanstats/internal/apperr"
)

func TestParse_DefaultExpression(t *testing.T) {
	f, err := Parse("", 3)
	require.NoError(t, err)
	assert.Equal(t, "$q0+$q1+$q2", f.String())
	assert.True(t, f.SumRule())

	v, err := f.Compute([]int64{1, 2, 3}, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	n, err := Parse("  ", 0)
	require.NoError(t, err)
	assert.Equal(t, "$n", n.String())
	assert.True(t, n.NeedsPositions())
	assert.False(t, n.SumRule())
}

func TestCompute(t *testing.T) {
	tests := []struct {
		expr string
		args []int64
		n, d int64
		want float64
	}{
		{"$q0 / $n", []int64{3}, 12, 1, 0.25},
		{"-$q0 + 2 * ($q1 - 1)", []int64{4, 5}, 0, 1, 4},
		{"$q0 * $q1", []int64{3, 7}, 0, 1, 21},
		{"1e2 * $d", []int64{0}, 0, 4, 400},
		{"--$q0", []int64{2}, 0, 1, 2},
		{"$q0 - 1 - 1", []int64{5}, 0, 1, 3},
	}
	for _, tt := range tests {
		f, err := Parse(tt.expr, len(tt.args))
		require.NoError(t, err, tt.expr)
		got, err := f.Compute(tt.args, tt.n, tt.d)
		require.NoError(t, err, tt.expr)
		assert.InDelta(t, tt.want, got, 1e-9, tt.expr)
	}
}

func TestCompute_Errors(t *testing.T) {
	f, err := Parse("$q0 / $q1", 2)
	require.NoError(t, err)

	_, err = f.Compute([]int64{1, 0}, 0, 1)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = f.Compute([]int64{1}, 0, 1)
	assert.Error(t, err)
}

func TestParse_InvalidRequests(t *testing.T) {
	for _, expr := range []string{
		"$q2",
		"$x",
		"$q",
		"1 +",
		"(1",
		"1 2",
		"#",
		"1..2",
	} {
		_, err := Parse(expr, 2)
		assert.True(t, apperr.IsInvalid(err), "%q: got %v", expr, err)
	}
	_, err := Parse("", -1)
	assert.True(t, apperr.IsInvalid(err))
}

func TestSumRule(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"$q0", true},
		{"$q0 + $q1", true},
		{"2 * $q0 - $q1 / 4", true},
		{"$q0 + $d", true},
		{"-($q0 - $q1)", true},
		{"$q0 + 1", false},
		{"$q0 * $q1", false},
		{"$q0 / $q1", false},
		{"$q0 / $n", false},
		{"$q0 / 0", false},
		{"3", false},
	}
	for _, tt := range tests {
		f, err := Parse(tt.expr, 2)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, f.SumRule(), tt.expr)
	}
}

func TestSumRule_AggregateEqualsPerDocumentSum(t *testing.T) {
	f, err := Parse("3 * $q0 - $q1 + 2 * $d", 2)
	require.NoError(t, err)
	require.True(t, f.SumRule())

	docs := [][]int64{{1, 4}, {0, 2}, {7, 1}}
	var perDoc float64
	sums := make([]int64, 2)
	for _, args := range docs {
		v, err := f.Compute(args, 0, 1)
		require.NoError(t, err)
		perDoc += v
		sums[0] += args[0]
		sums[1] += args[1]
	}
	aggregate, err := f.Compute(sums, 0, int64(len(docs)))
	require.NoError(t, err)
	assert.InDelta(t, perDoc, aggregate, 1e-9)
}
