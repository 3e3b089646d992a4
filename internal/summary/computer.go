// Package summary reduces a validated data point batch into per-marker
// descriptive statistics and time-series metrics.
package summary

import (
	"context"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// minForecastPoints is the minimum number of ordered observations a metric
// needs before a forecast is attempted.
const minForecastPoints = 8

// Computer builds StatisticalSummary values. Pure and deterministic:
// identical batches always reduce to bit-identical summaries.
type Computer struct{}

// NewComputer creates a new summary computer
func NewComputer() *Computer {
	return &Computer{}
}

// observation is one (time, value) sample for a marker.
type observation struct {
	at    core.Timestamp
	value float64
}

// Compute reduces the batch. Returns core.ErrInsufficientData for an empty
// batch. Individual markers missing from some points are simply omitted from
// that point's contribution, never an error. The context's deadline is
// checked inside the reduction loops so an expired time budget abandons the
// work instead of running it to completion.
func (c *Computer) Compute(ctx context.Context, points []analysis.DataPoint, protocol *analysis.Protocol) (*analysis.StatisticalSummary, error) {
	if len(points) == 0 {
		return nil, core.ErrInsufficientData
	}

	accs := make(map[core.MarkerKey]*welford)
	values := make(map[core.MarkerKey][]float64)
	series := make(map[core.MarkerKey][]observation)

	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for marker, v := range p.Payload {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			acc, ok := accs[marker]
			if !ok {
				acc = newWelford()
				accs[marker] = acc
			}
			acc.add(v)
			values[marker] = append(values[marker], v)
			series[marker] = append(series[marker], observation{at: p.RecordedAt, value: v})
		}
	}

	out := &analysis.StatisticalSummary{
		BasicStats: make(map[core.MarkerKey]analysis.MarkerStats, len(accs)),
	}

	// Sorted marker iteration keeps output ordering deterministic.
	markers := sortedMarkers(accs)
	for _, marker := range markers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acc := accs[marker]
		median, _ := stats.Median(values[marker])
		q25, _ := stats.Percentile(values[marker], 25)
		q75, _ := stats.Percentile(values[marker], 75)

		out.BasicStats[marker] = analysis.MarkerStats{
			Mean:   acc.mean,
			StdDev: acc.stdDev(),
			Min:    acc.min,
			Max:    acc.max,
			N:      acc.n,
			Median: median,
			Q25:    q25,
			Q75:    q75,
		}

		if metric, ok := c.timeSeriesMetric(marker, series[marker], protocol); ok {
			out.TimeSeriesMetrics = append(out.TimeSeriesMetrics, metric)
		}
	}

	return out, nil
}

// timeSeriesMetric buckets a marker's observations into cadence-sized bins
// from the protocol start and derives trend, seasonality, and an optional
// bounded forecast. Markers with fewer than three occupied bins carry no
// temporal signal and are dropped from the metrics list.
func (c *Computer) timeSeriesMetric(marker core.MarkerKey, obs []observation, protocol *analysis.Protocol) (analysis.TimeSeriesMetric, bool) {
	binned := binByCadence(obs, protocol)
	if len(binned) < 3 {
		return analysis.TimeSeriesMetric{}, false
	}

	// Detrend before the autocorrelation test so a plain linear drift is
	// reported as trend, not seasonality.
	slope := trendSlope(binned.values())
	ac := autocorrelation(detrend(binned.values(), slope), 1)
	seasonal := isSeasonal(ac, len(binned))

	metric := analysis.TimeSeriesMetric{
		Metric:            marker,
		Observations:      len(obs),
		Seasonal:          seasonal,
		AutocorrAtCadence: ac,
		TrendSlope:        slope,
	}

	if len(binned) >= minForecastPoints {
		metric.Forecast = forecast(binned, seasonal, ac, protocol.CheckInCadence)
	}

	return metric, true
}

func sortedMarkers(accs map[core.MarkerKey]*welford) []core.MarkerKey {
	markers := make([]core.MarkerKey, 0, len(accs))
	for m := range accs {
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i] < markers[j] })
	return markers
}
