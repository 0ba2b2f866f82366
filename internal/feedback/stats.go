package feedback

import (
	"context"
	"sort"
)

// TopEfficiencyCount is how many records Stats ranks by efficiency.
const TopEfficiencyCount = 10

// Summary describes a numeric column.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
}

// LevelAverage holds per-label averages.
type LevelAverage struct {
	Count        int     `json:"count"`
	ResponseTime float64 `json:"response_time"`
	WordCount    float64 `json:"word_count"`
}

// Efficiency ranks a record by is_correct / (response_time + 0.1).
type Efficiency struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	Score    float64 `json:"score"`
}

// Stats is the evaluation summary over rated records.
type Stats struct {
	Total         int64                   `json:"total"`
	Evaluated     int                     `json:"evaluated"`
	Distribution  map[string]int          `json:"distribution"`
	ResponseTime  Summary                 `json:"response_time"`
	WordCount     Summary                 `json:"word_count"`
	ByAccuracy    map[string]LevelAverage `json:"by_accuracy"`
	TopEfficiency []Efficiency            `json:"top_efficiency"`
}

// EfficiencyScore is is_correct / (response_time + 0.1).
func EfficiencyScore(isCorrect, responseTime float64) float64 {
	return isCorrect / (responseTime + 0.1)
}

// Stats computes the summary. Records without a rating count toward Total
// only.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := s.evaluated(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(total, recs), nil
}

func summarize(total int64, recs []Record) *Stats {
	st := &Stats{
		Total:         total,
		Evaluated:     len(recs),
		Distribution:  map[string]int{},
		ByAccuracy:    map[string]LevelAverage{},
		TopEfficiency: []Efficiency{},
	}
	if len(recs) == 0 {
		return st
	}

	rt := make([]float64, 0, len(recs))
	wc := make([]float64, 0, len(recs))
	sums := map[string]*LevelAverage{}
	for _, r := range recs {
		label := Label(*r.IsCorrect)
		if label == "" {
			label = "その他"
		}
		st.Distribution[label]++
		rt = append(rt, r.ResponseTime)
		wc = append(wc, float64(r.WordCount))

		a, ok := sums[label]
		if !ok {
			a = &LevelAverage{}
			sums[label] = a
		}
		a.Count++
		a.ResponseTime += r.ResponseTime
		a.WordCount += float64(r.WordCount)

		st.TopEfficiency = append(st.TopEfficiency, Efficiency{
			ID:       r.ID,
			Question: r.Question,
			Score:    EfficiencyScore(*r.IsCorrect, r.ResponseTime),
		})
	}
	st.ResponseTime = summary(rt)
	st.WordCount = summary(wc)
	for label, a := range sums {
		st.ByAccuracy[label] = LevelAverage{
			Count:        a.Count,
			ResponseTime: a.ResponseTime / float64(a.Count),
			WordCount:    a.WordCount / float64(a.Count),
		}
	}

	sort.SliceStable(st.TopEfficiency, func(i, j int) bool {
		return st.TopEfficiency[i].Score > st.TopEfficiency[j].Score
	})
	if len(st.TopEfficiency) > TopEfficiencyCount {
		st.TopEfficiency = st.TopEfficiency[:TopEfficiencyCount]
	}
	return st
}

func summary(vals []float64) Summary {
	if len(vals) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(vals), Min: vals[0], Max: vals[0]}
	var sum float64
	for _, v := range vals {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(len(vals))
	return s
}
