package splitter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fraugster/parquet-go/floor"
	"github.com/fraugster/parquet-go/parquetschema"
)

var metadataColumns = []string{"repo_full_name", "primary_language", "ci_provider", "outcome", "build_started_at"}

// exportColumns builds the frame's export column order: feature columns
// (which already include scan_metric keys, §4.8) followed by the fixed
// identity/outcome columns, plus the grouping dimension when metadata is
// requested.
func exportColumns(f *Frame, includeMetadata bool) []string {
	cols := make([]string, 0, len(f.FeatureNames)+len(metadataColumns)+1)
	cols = append(cols, f.FeatureNames...)
	cols = append(cols, metadataColumns...)
	if includeMetadata {
		cols = append(cols, "group")
	}
	return cols
}

// rowValue resolves one row's value for an export column; ok is false for a
// missing/degraded feature so writers can emit a format-appropriate null.
func rowValue(row *Row, col string) (string, bool) {
	switch col {
	case "repo_full_name":
		return row.RepoFullName, true
	case "primary_language":
		return row.PrimaryLanguage, true
	case "ci_provider":
		return row.CIProvider, true
	case "outcome":
		return row.Outcome, true
	case "build_started_at":
		if row.StartedAtUnix == 0 {
			return "", false
		}
		return time.Unix(row.StartedAtUnix, 0).UTC().Format(time.RFC3339), true
	case "group":
		return row.Group, true
	default:
		return row.value(col)
	}
}

// writeSplit exports one non-empty partition in the scenario's configured
// format and returns the written file's path and size in bytes.
func writeSplit(rows []*Row, cols []string, format, outputDir, split string) (string, int64, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("splitter: mkdir %s: %w", outputDir, err)
	}
	path := filepath.Join(outputDir, split+"."+extensionFor(format))

	var err error
	switch format {
	case "parquet":
		err = writeParquet(path, rows, cols)
	case "pickle":
		err = writePickle(path, rows, cols)
	default:
		err = writeCSV(path, rows, cols)
	}
	if err != nil {
		return "", 0, err
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return path, 0, nil
	}
	return path, info.Size(), nil
}

func extensionFor(format string) string {
	switch format {
	case "parquet":
		return "parquet"
	case "pickle":
		return "pkl"
	default:
		return "csv"
	}
}

func writeCSV(path string, rows []*Row, cols []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("splitter: create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("splitter: write csv header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(cols))
		for i, col := range cols {
			v, _ := rowValue(row, col)
			record[i] = v
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("splitter: write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// parquetSchemaFor declares every export column as an optional UTF8 binary
// field. Feature values are already flattened to strings by preprocess.go
// (numeric columns are formatted decimal text after normalization), so a
// uniform string schema avoids inferring per-column parquet types from data
// that may legitimately vary row to row (degraded values, mixed feature
// kinds).
func parquetSchemaFor(cols []string) (*parquetschema.SchemaDefinition, error) {
	def := "message splitrow {\n"
	for _, c := range cols {
		def += fmt.Sprintf("  optional binary %s (STRING);\n", sanitizeColumn(c))
	}
	def += "}\n"
	return parquetschema.ParseSchemaDefinition(def)
}

func sanitizeColumn(col string) string {
	out := make([]byte, len(col))
	for i := 0; i < len(col); i++ {
		c := col[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func writeParquet(path string, rows []*Row, cols []string) error {
	schemaDef, err := parquetSchemaFor(cols)
	if err != nil {
		return fmt.Errorf("splitter: parquet schema: %w", err)
	}
	w, err := floor.NewFileWriter(path, floor.WithSchemaDefinition(schemaDef))
	if err != nil {
		return fmt.Errorf("splitter: create parquet writer: %w", err)
	}
	for _, row := range rows {
		record := make(map[string]interface{}, len(cols))
		for _, col := range cols {
			if v, ok := rowValue(row, col); ok {
				record[sanitizeColumn(col)] = v
			}
		}
		if err := w.Write(record); err != nil {
			_ = w.Close()
			return fmt.Errorf("splitter: write parquet row: %w", err)
		}
	}
	return w.Close()
}

// writePickle serializes rows as a Python pickle protocol-2 `list[dict]`
// (string or None values). This is deliberately not a pandas DataFrame
// pickle: replicating pandas' block-manager binary layout without a
// pickling library is impractical, while `pickle.load(f)` on this file
// yields an ordinary list of row dicts trivially fed to
// `pandas.DataFrame(rows)`.
func writePickle(path string, rows []*Row, cols []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("splitter: create %s: %w", path, err)
	}
	defer file.Close()

	enc := newPickleEncoder()
	enc.proto2()
	enc.markList()
	for _, row := range rows {
		enc.markDict()
		for _, col := range cols {
			v, ok := rowValue(row, col)
			enc.unicode(col)
			if ok {
				enc.unicode(v)
			} else {
				enc.none()
			}
		}
		enc.setitems()
	}
	enc.appends()
	enc.stop()

	_, err = file.Write(enc.bytes())
	return err
}
