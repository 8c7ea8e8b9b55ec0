package lag

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MinFitReadings is the smallest number of readings leave-one-out
// evaluation can score.
const MinFitReadings = 3

// epsilon guards the percentage error against zero readings.
const epsilon = 2.220446049250313e-16

// Fit is an ordinary least squares model over selected features, scored on
// its leave-one-out predictions.
type Fit struct {
	Features     []string
	Intercept    float64
	Coefficients []float64
	Predictions  []float64 // leave-one-out

	RMSE      float64
	MAPE      float64 // percent
	R2        float64
	AdjR2     float64 // NaN when n-p-1 <= 0
	AIC       float64
	BIC       float64
	NumParams int
	PearsonR  float64
	PValue    float64
}

// FitOLS regresses the target on the named feature columns with an intercept.
// Coefficients come from the full data; every score comes from predicting
// each reading with a model fitted on the others.
func FitOLS(m *Matrix, features []string) (*Fit, error) {
	n := m.Rows()
	if n < MinFitReadings {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewReadings, n, MinFitReadings)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no features to fit")
	}

	p := len(features)
	design := mat.NewDense(n, p+1, nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
	}
	for j, name := range features {
		col, ok := m.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		design.SetCol(j+1, col)
	}
	y := mat.NewVecDense(n, append([]float64(nil), m.Target...))

	beta, err := leastSquares(design, y)
	if err != nil {
		return nil, fmt.Errorf("fit full model: %w", err)
	}

	preds := make([]float64, n)
	for k := 0; k < n; k++ {
		pred, err := leaveOneOut(design, y, k)
		if err != nil {
			return nil, fmt.Errorf("fit without reading %d: %w", k, err)
		}
		preds[k] = pred
	}

	fit := &Fit{
		Features:     append([]string(nil), features...),
		Intercept:    beta.AtVec(0),
		Coefficients: make([]float64, p),
		Predictions:  preds,
		NumParams:    p,
	}
	for j := 0; j < p; j++ {
		fit.Coefficients[j] = beta.AtVec(j + 1)
	}
	fit.score(m.Target)
	return fit, nil
}

func leaveOneOut(design *mat.Dense, y *mat.VecDense, k int) (float64, error) {
	n, c := design.Dims()
	train := mat.NewDense(n-1, c, nil)
	target := mat.NewVecDense(n-1, nil)
	row := 0
	for i := 0; i < n; i++ {
		if i == k {
			continue
		}
		train.SetRow(row, design.RawRowView(i))
		target.SetVec(row, y.AtVec(i))
		row++
	}
	beta, err := leastSquares(train, target)
	if err != nil {
		return 0, err
	}
	return mat.Dot(design.RowView(k), beta), nil
}

// leastSquares solves min |Ax - b| by QR, falling back to the minimum-norm
// SVD solution when A is wide or rank deficient.
func leastSquares(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	r, c := a.Dims()
	if r >= c {
		var qr mat.QR
		qr.Factorize(a)
		x := mat.NewVecDense(c, nil)
		if err := qr.SolveVecTo(x, false, b); err == nil {
			return x, nil
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("svd factorization failed")
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return nil, fmt.Errorf("design matrix has rank zero")
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)
	return &x, nil
}

func (f *Fit) score(y []float64) {
	n := float64(len(y))
	p := float64(f.NumParams)

	var rss, ape float64
	for i, v := range y {
		d := v - f.Predictions[i]
		rss += d * d
		ape += math.Abs(d) / math.Max(math.Abs(v), epsilon)
	}
	mean := stat.Mean(y, nil)
	var tss float64
	for _, v := range y {
		tss += (v - mean) * (v - mean)
	}

	f.RMSE = math.Sqrt(rss / n)
	f.MAPE = ape / n * 100
	switch {
	case tss > 0:
		f.R2 = 1 - rss/tss
	case rss == 0:
		f.R2 = 1
	default:
		f.R2 = 0
	}

	f.AdjR2 = math.NaN()
	if n-p-1 > 0 {
		f.AdjR2 = 1 - (1-f.R2)*(n-1)/(n-p-1)
	}

	f.AIC, f.BIC = math.Inf(-1), math.Inf(-1)
	if rss > 0 {
		ll := n * math.Log(rss/n)
		f.AIC = ll + 2*p
		f.BIC = ll + p*math.Log(n)
	}

	f.PearsonR, f.PValue = pearson(y, f.Predictions)
}

// pearson returns the correlation and its two-sided p-value under the
// t distribution with n-2 degrees of freedom.
func pearson(x, y []float64) (r, pValue float64) {
	n := float64(len(x))
	if len(x) < 3 || stat.StdDev(x, nil) == 0 || stat.StdDev(y, nil) == 0 {
		return math.NaN(), math.NaN()
	}
	r = stat.Correlation(x, y, nil)
	r = math.Max(-1, math.Min(1, r))
	if math.Abs(r) == 1 {
		return r, 0
	}
	t := r * math.Sqrt((n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}
	return r, 2 * dist.Survival(math.Abs(t))
}
