package lag

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/fissure/internal/models"
)

// RankFeatures scores every column by its absolute Pearson correlation with
// the target and returns the best topN, strongest first. Constant columns
// score zero. Ties keep column order.
func RankFeatures(m *Matrix, topN int) []models.LagScore {
	_, cols := m.X.Dims()
	scores := make([]models.LagScore, cols)
	col := make([]float64, m.Rows())
	for c := 0; c < cols; c++ {
		mat.Col(col, c, m.X)
		scores[c] = models.LagScore{Feature: m.Names[c], Correlation: absCorrelation(col, m.Target)}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Correlation > scores[j].Correlation
	})
	if topN < len(scores) {
		scores = scores[:topN]
	}
	return scores
}

func absCorrelation(x, y []float64) float64 {
	if len(x) < 2 || stat.StdDev(x, nil) == 0 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return math.Abs(r)
}
