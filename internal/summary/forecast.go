package summary

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// maxForecastHorizon bounds every forecast to at most 8 steps of one cadence
// period each. Longer horizons from a naive model are noise, not signal.
const maxForecastHorizon = 8

// bin is the mean of a marker's observations within one cadence period.
type bin struct {
	at    core.Timestamp
	value float64
}

type bins []bin

func (b bins) values() []float64 {
	vs := make([]float64, len(b))
	for i, x := range b {
		vs[i] = x.value
	}
	return vs
}

// binByCadence averages observations into cadence-sized bins anchored at the
// protocol start. Empty bins are dropped; ordering is chronological.
func binByCadence(obs []observation, protocol *analysis.Protocol) bins {
	period := protocol.CheckInCadence.Duration()
	if period <= 0 || len(obs) == 0 {
		return nil
	}

	start := protocol.StartedAt.Time()
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, o := range obs {
		idx := int(o.at.Time().Sub(start) / period)
		if idx < 0 {
			continue
		}
		sums[idx] += o.value
		counts[idx]++
	}

	indices := make([]int, 0, len(sums))
	for idx := range sums {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make(bins, 0, len(indices))
	for _, idx := range indices {
		out = append(out, bin{
			at:    core.NewTimestamp(start.Add(time.Duration(idx) * period)),
			value: sums[idx] / float64(counts[idx]),
		})
	}
	return out
}

// detrend subtracts the fitted least-squares line from the series.
func detrend(series []float64, slope float64) []float64 {
	intercept := meanOf(series) - slope*float64(len(series)-1)/2
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = v - (intercept + slope*float64(i))
	}
	return out
}

// autocorrelation computes the lag-k sample autocorrelation of a series.
func autocorrelation(series []float64, lag int) float64 {
	n := len(series)
	if n <= lag {
		return 0
	}

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	var num, den float64
	for i := 0; i < n; i++ {
		den += (series[i] - mean) * (series[i] - mean)
	}
	if den == 0 {
		return 0
	}
	for i := 0; i < n-lag; i++ {
		num += (series[i] - mean) * (series[i+lag] - mean)
	}
	return num / den
}

// isSeasonal applies the Bartlett cutoff: the autocorrelation is significant
// when it exceeds the two-sided normal quantile over sqrt(n).
func isSeasonal(ac float64, n int) bool {
	if n < 3 {
		return false
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	cutoff := normal.Quantile(0.975) / math.Sqrt(float64(n))
	return math.Abs(ac) > cutoff
}

// trendSlope fits an ordinary least-squares line over (index, value) and
// returns its slope per cadence step.
func trendSlope(series []float64) float64 {
	n := float64(len(series))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range series {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// forecast extrapolates the binned series. Seasonal series continue their
// observed cycle (seasonal-naive); others extend the least-squares trend. A
// negative lag-1 autocorrelation means adjacent bins oscillate, so the
// projection alternates the last two bins instead of repeating the last one,
// which would be exactly out of phase.
func forecast(b bins, seasonal bool, ac float64, cadence core.Cadence) *analysis.Forecast {
	horizon := len(b) / 2
	if horizon > maxForecastHorizon {
		horizon = maxForecastHorizon
	}
	if horizon < 1 {
		horizon = 1
	}

	period := cadence.Duration()
	last := b[len(b)-1]

	f := &analysis.Forecast{
		Timestamps: make([]core.Timestamp, horizon),
		Values:     make([]float64, horizon),
	}

	if seasonal {
		f.Method = "seasonal_naive"
		next := last.value
		prev := last.value
		if ac < 0 && len(b) >= 2 {
			next = b[len(b)-2].value
			prev = last.value
		}
		for i := 0; i < horizon; i++ {
			f.Timestamps[i] = core.NewTimestamp(last.at.Time().Add(time.Duration(i+1) * period))
			if i%2 == 0 {
				f.Values[i] = next
			} else {
				f.Values[i] = prev
			}
		}
		return f
	}

	f.Method = "linear_trend"
	slope := trendSlope(b.values())
	intercept := meanOf(b.values()) - slope*float64(len(b)-1)/2
	for i := 0; i < horizon; i++ {
		step := float64(len(b) + i)
		f.Timestamps[i] = core.NewTimestamp(last.at.Time().Add(time.Duration(i+1) * period))
		f.Values[i] = intercept + slope*step
	}
	return f
}

func meanOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
