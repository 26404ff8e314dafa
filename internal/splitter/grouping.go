package splitter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var languageGroups = map[string]string{
	"python": "backend", "java": "backend", "go": "backend", "rust": "backend", "c": "backend", "cpp": "backend", "c++": "backend", "csharp": "backend", "c#": "backend",
	"javascript": "fullstack", "typescript": "fullstack", "ruby": "fullstack", "php": "fullstack",
	"bash": "scripting", "shell": "scripting", "powershell": "scripting", "perl": "scripting", "lua": "scripting",
}

// foldLanguageGroup implements §4.8's fixed language_group lookup.
func foldLanguageGroup(primaryLanguage string) string {
	if g, ok := languageGroups[strings.ToLower(strings.TrimSpace(primaryLanguage))]; ok {
		return g
	}
	return "other"
}

// foldTimeOfDay buckets a build's start hour into §4.8's four time windows.
func foldTimeOfDay(startedAtUnix int64) string {
	hour := time.Unix(startedAtUnix, 0).UTC().Hour()
	switch {
	case hour >= 0 && hour <= 5:
		return "night"
	case hour >= 6 && hour <= 11:
		return "morning"
	case hour >= 12 && hour <= 17:
		return "afternoon"
	default:
		return "evening"
	}
}

// quartileBins assigns bin_1..bin_4 to each value by quartile membership,
// with duplicate-drop semantics: if the computed cut points collapse (fewer
// than four unique values exist), every row falls into a single bin.
func quartileBins(values []float64) []string {
	sorted := sortedCopy(values)
	uniq := make(map[float64]bool, len(sorted))
	for _, v := range sorted {
		uniq[v] = true
	}
	out := make([]string, len(values))
	if len(uniq) < 4 {
		for i := range out {
			out[i] = "bin_1"
		}
		return out
	}

	q1 := percentile(sorted, 0.25)
	q2 := percentile(sorted, 0.50)
	q3 := percentile(sorted, 0.75)
	// Collapse to a single bin if the cut points coincide (heavily skewed data).
	if q1 == q2 && q2 == q3 {
		for i := range out {
			out[i] = "bin_1"
		}
		return out
	}
	for i, v := range values {
		switch {
		case v <= q1:
			out[i] = "bin_1"
		case v <= q2:
			out[i] = "bin_2"
		case v <= q3:
			out[i] = "bin_3"
		default:
			out[i] = "bin_4"
		}
	}
	return out
}

// computeGroups materialises the grouping column named by group_by (§4.8
// "Grouping dimension pre-pass") into each row's Group field.
func computeGroups(f *Frame, groupBy string) error {
	switch groupBy {
	case "language_group", "":
		for _, row := range f.Rows {
			row.Group = foldLanguageGroup(row.PrimaryLanguage)
		}
	case "time_of_day":
		for _, row := range f.Rows {
			row.Group = foldTimeOfDay(row.StartedAtUnix)
		}
	case "percentage_of_builds_before", "number_of_builds_before":
		values := make([]float64, len(f.Rows))
		for i, row := range f.Rows {
			raw, ok := row.value(groupBy)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("splitter: group_by %s: row %s has non-numeric value %q", groupBy, row.BuildRunID, raw)
			}
			values[i] = v
		}
		bins := quartileBins(values)
		for i, row := range f.Rows {
			row.Group = bins[i]
		}
	default:
		return fmt.Errorf("splitter: unsupported group_by dimension %q", groupBy)
	}
	return nil
}

// assignSequence fixes a deterministic ordering key on every row.
// temporal_ordering=true sorts by build_started_at ascending so ratio-based
// splits see train=oldest, test=newest (§4.8 "Temporal pre-pass"); otherwise
// rows are ordered by build_run_id for a reproducible but arbitrary order.
func assignSequence(f *Frame, temporalOrdering bool) {
	ordered := make([]*Row, len(f.Rows))
	copy(ordered, f.Rows)
	if temporalOrdering {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StartedAtUnix < ordered[j].StartedAtUnix })
	} else {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].BuildRunID < ordered[j].BuildRunID })
	}
	for i, row := range ordered {
		row.Seq = i
	}
	if temporalOrdering {
		f.Rows = ordered
	}
}

// groupedRows returns the frame's rows bucketed by Group, with group names
// sorted for deterministic downstream ordering (leave_one_out/leave_two_out
// "first/second/rest" auto-assignment relies on this ordering).
func groupedRows(f *Frame) (map[string][]*Row, []string) {
	byGroup := make(map[string][]*Row)
	for _, row := range f.Rows {
		byGroup[row.Group] = append(byGroup[row.Group], row)
	}
	names := make([]string, 0, len(byGroup))
	for name := range byGroup {
		names = append(names, name)
	}
	sort.Strings(names)
	return byGroup, names
}
