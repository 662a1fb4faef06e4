package regression

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairedDesign builds rows in pairs that share every column except "noise",
// which is +1/-1 within the pair. "noise" is then orthogonal to everything
// else and its fit can never lower RSS.
func pairedDesign() *Design {
	d := &Design{Columns: map[string][]float64{}}
	for k := 0; k < 20; k++ {
		a := float64(k % 5)
		b := float64((k * 3) % 7)
		e := 0.05 * float64((k*7)%5-2)
		y := 1 + a + 2*b + e
		for _, sign := range []float64{1, -1} {
			d.Columns["a"] = append(d.Columns["a"], a)
			d.Columns["b"] = append(d.Columns["b"], b)
			d.Columns["noise"] = append(d.Columns["noise"], sign)
			d.Columns["twice_a"] = append(d.Columns["twice_a"], 2*a)
			d.Y = append(d.Y, y)
		}
	}
	return d
}

func TestForwardStepwise_AddsInformativeCandidate(t *testing.T) {
	d := pairedDesign()

	selected, fit, err := ForwardStepwise(context.Background(), d, []string{"a"}, []string{"noise", "b", "twice_a"}, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, selected)
	beta, ok := fit.Coefficient("b")
	require.True(t, ok)
	assert.InDelta(t, 2.0, beta, 0.05)
}

func TestForwardStepwise_ForcedTermsAlwaysKept(t *testing.T) {
	d := pairedDesign()

	selected, _, err := ForwardStepwise(context.Background(), d, []string{"a", "noise"}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "noise"}, selected)
}

func TestForwardStepwise_IgnoresAbsentTerms(t *testing.T) {
	d := pairedDesign()

	selected, _, err := ForwardStepwise(context.Background(), d, []string{"a", "missing"}, []string{"also_missing"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, selected)
}

func TestForwardStepwise_MaxStepsZero(t *testing.T) {
	d := pairedDesign()

	selected, _, err := ForwardStepwise(context.Background(), d, []string{"a"}, []string{"b"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, selected)
}

func TestForwardStepwise_Cancelled(t *testing.T) {
	d := pairedDesign()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ForwardStepwise(ctx, d, []string{"a"}, []string{"b"}, 10)
	assert.True(t, errors.Is(err, context.Canceled))
}
