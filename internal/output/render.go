package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/register"
	"github.com/rshade/regscan/internal/scanner"
)

// ErrUnknownFormat is returned for an output format other than table, json or csv.
var ErrUnknownFormat = errors.New("unknown output format")

// tabwriterPadding is the minimum padding between table columns.
const tabwriterPadding = 2

// csvHeader is the first CSV record.
//
//nolint:gochecknoglobals // Fixed column layout.
var csvHeader = []string{"device", "address", "function_code", "data_type", "value", "accessible", "error", "timestamp"}

// Render writes results to w in the given format.
func Render(w io.Writer, format string, results []*scanner.Result) error {
	switch format {
	case config.FormatTable, "":
		return RenderTable(w, results)
	case config.FormatJSON:
		return RenderJSON(w, results)
	case config.FormatCSV:
		return RenderCSV(w, results)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// RenderJSON writes one indented document for a single result, or an array of
// documents for several.
func RenderJSON(w io.Writer, results []*scanner.Result) error {
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, NewDocument(r))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	var payload any = docs
	if len(docs) == 1 {
		payload = docs[0]
	}
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

// RenderCSV writes one record per register, preceded by a header.
func RenderCSV(w io.Writer, results []*scanner.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range results {
		for _, reg := range r.Registers {
			if err := cw.Write(csvRecord(r.Device, reg)); err != nil {
				return fmt.Errorf("writing CSV record: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return nil
}

func csvRecord(device string, reg register.Info) []string {
	errText := ""
	if reg.Error != nil {
		errText = reg.Error.Error()
	}
	return []string{
		device,
		strconv.Itoa(reg.Address),
		strconv.Itoa(int(reg.FunctionCode)),
		reg.DataType.String(),
		reg.FormatValue(),
		strconv.FormatBool(reg.Accessible),
		errText,
		reg.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// RenderTable writes, per device, a register table followed by a styled summary.
func RenderTable(w io.Writer, results []*scanner.Result) error {
	for i, r := range results {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := renderDeviceTable(w, r); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, RenderSummary(r)); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
	}
	return nil
}

func renderDeviceTable(w io.Writer, r *scanner.Result) error {
	if _, err := fmt.Fprintf(w, "Device: %s\n", r.Device); err != nil {
		return fmt.Errorf("writing device header: %w", err)
	}
	if r.Err != nil && len(r.Registers) == 0 {
		_, err := fmt.Fprintf(w, "  scan failed: %v\n", r.Err)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, tabwriterPadding, ' ', 0)
	if _, err := fmt.Fprintf(tw, "ADDRESS\tFC\tTYPE\tVALUE\tSTATUS\tERROR\n"); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := fmt.Fprintf(tw, "-------\t--\t----\t-----\t------\t-----\n"); err != nil {
		return fmt.Errorf("writing separator: %w", err)
	}

	for _, reg := range r.Registers {
		status := "ok"
		value := reg.FormatValue()
		errText := ""
		if !reg.Accessible {
			status = "n/a"
			value = "-"
			if reg.Error != nil {
				errText = reg.Error.Message
			}
		}
		if _, err := fmt.Fprintf(tw, "%d\t%02d\t%s\t%s\t%s\t%s\n",
			reg.Address, int(reg.FunctionCode), reg.DataType, value, status, errText,
		); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	return tw.Flush()
}
