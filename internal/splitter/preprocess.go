package splitter

import (
	"math"
	"sort"
	"strconv"

	"github.com/antigravity-dev/buildrisk/internal/scenario"
)

// applyMissingFeatures implements §4.8's preprocessing step: for each
// selected feature, apply the missing-value strategy before normalization.
// drop_row removes rows with any null among the frame's feature columns;
// fill substitutes the configured fill value; skip_feature drops the whole
// column instead of touching rows.
func applyMissingFeatures(f *Frame, cfg scenario.MissingFeatures) {
	switch cfg.Strategy {
	case "skip_feature":
		keep := make([]string, 0, len(f.FeatureNames))
		for _, name := range f.FeatureNames {
			missing := false
			for _, row := range f.Rows {
				if _, ok := row.value(name); !ok {
					missing = true
					break
				}
			}
			if !missing {
				keep = append(keep, name)
			}
		}
		for _, row := range f.Rows {
			for _, name := range f.FeatureNames {
				if !contains(keep, name) {
					delete(row.Features, name)
				}
			}
		}
		f.FeatureNames = keep

	case "fill":
		for _, row := range f.Rows {
			for _, name := range f.FeatureNames {
				if _, ok := row.value(name); !ok {
					row.Features[name] = cfg.FillValue
				}
			}
		}

	case "drop_row":
		fallthrough
	default:
		kept := f.Rows[:0:0]
		for _, row := range f.Rows {
			complete := true
			for _, name := range f.FeatureNames {
				if _, ok := row.value(name); !ok {
					complete = false
					break
				}
			}
			if complete {
				kept = append(kept, row)
			}
		}
		f.Rows = kept
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// applyNormalization implements §4.8's column-scaling step. Only columns
// where every row's value parses as a float are touched; non-numeric
// (categorical) feature columns pass through untouched.
func applyNormalization(f *Frame, method string) {
	if method == "" || method == "none" {
		return
	}
	for _, name := range f.FeatureNames {
		values, ok := numericColumn(f, name)
		if !ok {
			continue
		}
		scaled := scaleColumn(method, values)
		for i, row := range f.Rows {
			row.Features[name] = strconv.FormatFloat(scaled[i], 'g', -1, 64)
		}
	}
}

func numericColumn(f *Frame, name string) ([]float64, bool) {
	out := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		raw, ok := row.value(name)
		if !ok {
			return nil, false
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func scaleColumn(method string, values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	switch method {
	case "minmax":
		min, max := minMax(values)
		span := max - min
		for i, v := range values {
			if span == 0 {
				out[i] = 0
				continue
			}
			out[i] = (v - min) / span
		}
	case "zscore":
		mean := meanOf(values)
		sd := stddevOf(values, mean)
		for i, v := range values {
			if sd == 0 {
				out[i] = 0
				continue
			}
			out[i] = (v - mean) / sd
		}
	case "robust":
		med := medianOf(values)
		iqr := iqrOf(values)
		for i, v := range values {
			if iqr == 0 {
				out[i] = 0
				continue
			}
			out[i] = (v - med) / iqr
		}
	case "maxabs":
		maxAbs := 0.0
		for _, v := range values {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
		for i, v := range values {
			if maxAbs == 0 {
				out[i] = 0
				continue
			}
			out[i] = v / maxAbs
		}
	case "log1p":
		for i, v := range values {
			sign := 1.0
			if v < 0 {
				sign = -1.0
			}
			out[i] = sign * math.Log1p(math.Abs(v))
		}
	case "decimal":
		maxAbs := 0.0
		for _, v := range values {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
		if maxAbs == 0 {
			break
		}
		digits := math.Ceil(math.Log10(maxAbs + 1))
		divisor := math.Pow(10, digits)
		for i, v := range values {
			out[i] = v / divisor
		}
	}
	return out
}

func minMax(values []float64) (float64, float64) {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func medianOf(values []float64) float64 {
	return percentile(sortedCopy(values), 0.5)
}

func iqrOf(values []float64) float64 {
	s := sortedCopy(values)
	return percentile(s, 0.75) - percentile(s, 0.25)
}
