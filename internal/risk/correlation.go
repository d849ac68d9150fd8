package risk

import "math"

// clusters groups symbols whose price action is structurally correlated,
// beyond what a 60-period rolling Pearson correlation alone would catch
// during a quiet regime. Supplements the pairwise correlation veto with
// a per-cluster position cap.
var clusters = map[string]string{
	"EURUSD": "EUR_BLOC",
	"EURGBP": "EUR_BLOC",
	"EURJPY": "EUR_BLOC",
	"EURCHF": "EUR_BLOC",
	"GBPUSD": "GBP_BLOC",
	"GBPJPY": "GBP_BLOC",
	"GBPCHF": "GBP_BLOC",
	"XAUUSD": "SAFE_HAVEN",
	"XAGUSD": "SAFE_HAVEN",
	"USDCHF": "SAFE_HAVEN",
	"USDJPY": "SAFE_HAVEN",
	"USDCAD": "COMMODITY",
	"AUDUSD": "COMMODITY",
	"NZDUSD": "COMMODITY",
	"AUDJPY": "RISK_ON",
	"NZDJPY": "RISK_ON",
}

// clusterOf returns the named cluster for a symbol, or the symbol
// itself when it belongs to no known cluster (treating it as its own
// singleton cluster).
func clusterOf(symbol string) string {
	if c, ok := clusters[symbol]; ok {
		return c
	}
	return symbol
}

// pearson computes the Pearson correlation coefficient between two
// equal-length return series. Returns 0 for degenerate (too-short or
// constant) series.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
