package units

import (
	"math"
	"sort"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Statistical helpers shared by the pipeline stages. All scores are on
// the canonical 0-100 scale; variance and standard deviation use the
// population definition because the judge set is the entire population
// of interest, not a sample.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// weightedMean falls back to the plain mean when the weight mass is zero.
func weightedMean(xs, ws []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum, mass float64
	for i, x := range xs {
		sum += x * ws[i]
		mass += ws[i]
	}
	if mass <= 0 {
		return mean(xs)
	}
	return sum / mass
}

func popVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

func popStdDev(xs []float64) float64 { return math.Sqrt(popVariance(xs)) }

// median returns the middle of the sorted values, averaging the two
// middle values for even counts. The input is not modified.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode returns the most frequent value after rounding to two decimals,
// breaking frequency ties toward the smallest value for determinism.
func mode(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	counts := make(map[float64]int, len(xs))
	for _, x := range xs {
		counts[math.Round(x*100)/100]++
	}
	best, bestCount := math.Inf(1), 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

// quartiles computes Q1/Q2/Q3 by linear interpolation between order
// statistics (the same convention spreadsheets use).
func quartiles(xs []float64) (q1, q2, q3 float64) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	return percentile(sorted, 0.25), percentile(sorted, 0.50), percentile(sorted, 0.75)
}

// percentile expects sorted input.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// skewness is the population skewness (zero for symmetric or degenerate
// distributions).
func skewness(xs []float64) float64 {
	sd := popStdDev(xs)
	if sd == 0 || len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := (x - m) / sd
		sum += d * d * d
	}
	return sum / float64(len(xs))
}

// kurtosis is the population excess kurtosis (zero for a normal
// distribution and for degenerate inputs).
func kurtosis(xs []float64) float64 {
	sd := popStdDev(xs)
	if sd == 0 || len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := (x - m) / sd
		sum += d * d * d * d
	}
	return sum/float64(len(xs)) - 3
}

// histogram buckets values into fixed-width bins over [lo, hi]. The last
// bin's upper bound is inclusive so hi itself is counted.
func histogram(xs []float64, bins int, lo, hi float64) []domain.HistogramBin {
	if bins <= 0 || hi <= lo {
		return nil
	}
	width := (hi - lo) / float64(bins)
	out := make([]domain.HistogramBin, bins)
	for i := range out {
		out[i] = domain.HistogramBin{
			Lower: lo + float64(i)*width,
			Upper: lo + float64(i+1)*width,
		}
	}
	for _, x := range xs {
		if x < lo || x > hi {
			continue
		}
		idx := int((x - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Count++
	}
	return out
}

// zScoreCap bounds leave-one-out z-scores. With the spread floor below,
// scores on the 0-100 scale can never exceed it; the cap keeps the
// stored value JSON-friendly regardless.
const zScoreCap = 100.0

// minPeerSpread floors the peer standard deviation at two points on the
// 0-100 scale. Near-unanimous judge sets otherwise flag noise-level
// deviations (peers at 70 and 68 put a 72 three sigmas out).
const minPeerSpread = 2.0

// looZScores computes each value's z-score against the mean and
// population standard deviation of its peers (all other values). Testing
// against peers keeps an extreme value from inflating the spread it is
// measured against, which a grand-mean z-score suffers from in small
// judge sets. Identical values all score 0, and fewer than three values
// cannot single out a deviant, so all score 0.
func looZScores(values []float64) []float64 {
	n := len(values)
	zs := make([]float64, n)
	if n < 3 {
		return zs
	}
	for i, v := range values {
		peers := make([]float64, 0, n-1)
		peers = append(peers, values[:i]...)
		peers = append(peers, values[i+1:]...)
		m := mean(peers)
		sd := popStdDev(peers)
		if sd < minPeerSpread {
			sd = minPeerSpread
		}
		zs[i] = math.Min(math.Abs(v-m)/sd, zScoreCap)
	}
	return zs
}

// trimmedMean drops the lowest and highest frac of values before
// averaging. frac is clamped so at least one value survives.
func trimmedMean(xs []float64, frac float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	drop := int(frac * float64(len(sorted)))
	if 2*drop >= len(sorted) {
		drop = (len(sorted) - 1) / 2
	}
	return mean(sorted[drop : len(sorted)-drop])
}

// describe builds the full distribution summary for a score set.
func describe(xs []float64, bins int) domain.Distribution {
	q1, q2, q3 := quartiles(xs)
	variance := popVariance(xs)
	return domain.Distribution{
		Mean:      mean(xs),
		Median:    median(xs),
		Mode:      mode(xs),
		StdDev:    math.Sqrt(variance),
		Variance:  variance,
		Q1:        q1,
		Q2:        q2,
		Q3:        q3,
		Skewness:  skewness(xs),
		Kurtosis:  kurtosis(xs),
		Histogram: histogram(xs, bins, 0, 100),
		Count:     len(xs),
	}
}
