package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// InterceptTerm names the constant column of every fitted model.
const InterceptTerm = "const"

// ErrUnderdetermined is returned when there are not more observations than parameters.
var ErrUnderdetermined = errors.New("not enough observations for the number of parameters")

// OLSResult is an ordinary least squares fit with an intercept.
type OLSResult struct {
	Terms  []string // InterceptTerm first, then the regressors in input order
	Beta   []float64
	StdErr []float64
	Fitted []float64
	N      int
	RSS    float64
	R2     float64
	AdjR2  float64
	AIC    float64
}

// FitOLS regresses y on the named columns plus an intercept using a QR
// decomposition. AIC follows the Gaussian log-likelihood convention:
// AIC = n*(ln(2*pi*RSS/n) + 1) + 2k.
func FitOLS(names []string, columns [][]float64, y []float64) (*OLSResult, error) {
	n := len(y)
	p := len(names) + 1
	if len(columns) != len(names) {
		return nil, fmt.Errorf("got %d columns for %d names", len(columns), len(names))
	}
	if n <= p {
		return nil, ErrUnderdetermined
	}

	X := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, 1)
	}
	for j, col := range columns {
		if len(col) != n {
			return nil, fmt.Errorf("column %s has %d rows, want %d", names[j], len(col), n)
		}
		for i, v := range col {
			X.Set(i, j+1, v)
		}
	}
	Y := mat.NewDense(n, 1, append([]float64(nil), y...))

	var qr mat.QR
	qr.Factorize(X)

	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, Y); err != nil {
		return nil, fmt.Errorf("least squares solve failed: %w", err)
	}

	var fittedM mat.Dense
	fittedM.Mul(X, &beta)
	fitted := make([]float64, n)
	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted[i] = fittedM.At(i, 0)
		resid[i] = y[i] - fitted[i]
	}

	rss := floats.Dot(resid, resid)
	mean := stat.Mean(y, nil)
	var tss float64
	for _, v := range y {
		tss += (v - mean) * (v - mean)
	}

	res := &OLSResult{
		Terms:  append([]string{InterceptTerm}, names...),
		Beta:   make([]float64, p),
		StdErr: make([]float64, p),
		Fitted: fitted,
		N:      n,
		RSS:    rss,
	}
	for j := 0; j < p; j++ {
		res.Beta[j] = beta.At(j, 0)
	}

	if tss > 0 {
		res.R2 = 1 - rss/tss
		res.AdjR2 = 1 - (1-res.R2)*float64(n-1)/float64(n-p)
	}

	// An exact fit would make AIC -Inf; floor RSS so it stays finite.
	aicRSS := math.Max(rss, 1e-300)
	res.AIC = float64(n)*(math.Log(2*math.Pi*aicRSS/float64(n))+1) + 2*float64(p)

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("covariance matrix is singular: %w", err)
	}
	sigma2 := rss / float64(n-p)
	for j := 0; j < p; j++ {
		res.StdErr[j] = math.Sqrt(sigma2 * inv.At(j, j))
	}

	return res, nil
}

// Predict evaluates the fitted model for one row of regressor values given
// in the same order as the non-intercept Terms.
func (r *OLSResult) Predict(row []float64) float64 {
	out := r.Beta[0]
	for j, v := range row {
		out += r.Beta[j+1] * v
	}
	return out
}

// Coefficient returns the beta for term and whether it is in the model.
func (r *OLSResult) Coefficient(term string) (float64, bool) {
	for i, t := range r.Terms {
		if t == term {
			return r.Beta[i], true
		}
	}
	return 0, false
}
