package stats

import "github.com/roach88/tessera/internal/model"

// Aggregate summarizes the integer samples of a series.
// Mean is truncated toward zero; there are no floats in the value model.
type Aggregate struct {
	Count int
	Min   int64
	Max   int64
	Sum   int64
	Mean  int64
}

// Summarize aggregates the Int samples of s. Non-integer samples are skipped.
func Summarize(s *Series) (Aggregate, bool) {
	var agg Aggregate
	for _, sample := range s.Samples() {
		n, ok := sample.Value.(model.Int)
		if !ok {
			continue
		}
		v := int64(n)
		if agg.Count == 0 || v < agg.Min {
			agg.Min = v
		}
		if agg.Count == 0 || v > agg.Max {
			agg.Max = v
		}
		agg.Sum += v
		agg.Count++
	}
	if agg.Count == 0 {
		return Aggregate{}, false
	}
	agg.Mean = agg.Sum / int64(agg.Count)
	return agg, true
}
