// Package export writes archived results in portable formats: an indented
// JSON dump, a per-step CSV report and a ZIP bundle that carries both plus
// the initial and final bits.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/zip"

	"github.com/roach88/bitstrat/internal/ir"
)

// CSVHeader is the first row of the step report.
var CSVHeader = []string{
	"index", "stage", "algorithm", "operation", "params", "status", "reason",
	"cost", "estimated_cost", "score", "budget_remaining",
	"before_len", "after_len", "before_hash", "after_hash", "duration_ns",
}

// WriteJSON writes res, steps included, as indented JSON.
func WriteJSON(w io.Writer, res *ir.ExecutionResult) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return nil
}

// WriteCSV writes one row per recorded step. Params are canonical JSON
// and bit states are reduced to length and content hash.
func WriteCSV(w io.Writer, res *ir.ExecutionResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	for _, s := range res.Steps {
		row, err := csvRow(s)
		if err != nil {
			return fmt.Errorf("export csv: step %d: %w", s.Index, err)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}

func csvRow(s ir.TransformationStep) ([]string, error) {
	params := s.Params
	if params == nil {
		params = ir.Object{}
	}
	p, err := ir.MarshalCanonical(params)
	if err != nil {
		return nil, err
	}
	return []string{
		strconv.Itoa(s.Index),
		strconv.Itoa(s.Stage),
		s.Algorithm,
		s.Operation,
		string(p),
		string(s.Status),
		s.Reason,
		formatFloat(s.Cost),
		formatFloat(s.EstimatedCost),
		formatFloat(s.Score),
		formatFloat(s.BudgetRemaining),
		strconv.Itoa(s.BeforeBits.Len()),
		strconv.Itoa(s.AfterBits.Len()),
		ir.BitsHash(string(s.BeforeBits)),
		ir.BitsHash(string(s.AfterBits)),
		strconv.FormatInt(int64(s.Duration), 10),
	}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// WriteBundle writes a ZIP archive with a fixed layout:
//
//	report.csv
//	result.json
//	steps/000.json ...
//	bits/initial.bin  bits/initial.txt
//	bits/final.bin    bits/final.txt
//
// Entries carry the run's end time so the same result always yields the
// same bytes.
func WriteBundle(w io.Writer, res *ir.ExecutionResult) error {
	zw := zip.NewWriter(w)

	add := func(name string, write func(io.Writer) error) error {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: res.EndTime,
		})
		if err != nil {
			return fmt.Errorf("export bundle: %s: %w", name, err)
		}
		if err := write(f); err != nil {
			return fmt.Errorf("export bundle: %s: %w", name, err)
		}
		return nil
	}
	raw := func(data []byte) func(io.Writer) error {
		return func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}
	}

	if err := add("report.csv", func(w io.Writer) error { return WriteCSV(w, res) }); err != nil {
		return err
	}
	if err := add("result.json", func(w io.Writer) error { return WriteJSON(w, res) }); err != nil {
		return err
	}
	for _, s := range res.Steps {
		step := s
		name := fmt.Sprintf("steps/%03d.json", s.Index)
		err := add(name, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(step)
		})
		if err != nil {
			return err
		}
	}

	files := []struct {
		name string
		data []byte
	}{
		{"bits/initial.bin", res.InitialBits.Bytes()},
		{"bits/initial.txt", []byte(res.InitialBits.String() + "\n")},
		{"bits/final.bin", res.FinalBits.Bytes()},
		{"bits/final.txt", []byte(res.FinalBits.String() + "\n")},
	}
	for _, f := range files {
		if err := add(f.name, raw(f.data)); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("export bundle: %w", err)
	}
	return nil
}
