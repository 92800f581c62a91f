// Package report renders sampled values into the semicolon-delimited rows
// consumed by spreadsheet tools. The header is assembled once per session
// from registry contents; every later row follows exactly the same column
// layout. Field contents are never quoted, so names containing the
// delimiter are not supported.
package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"threadmon/internal/auxproc"
	"threadmon/internal/reconcile"
	"threadmon/internal/registry"
)

const delimiter = ";"

// Writer appends one header plus one row per tick to the underlying file.
// A row is fully assembled before a single write, so a failed tick never
// leaves a partial line behind.
type Writer struct {
	out          io.Writer
	decimalComma bool
	columns      int
}

func NewWriter(out io.Writer, decimalComma bool) *Writer {
	return &Writer{out: out, decimalComma: decimalComma}
}

// WriteHeader freezes the schema for the session. Column order: timestamp
// columns, one memory column per auxiliary process, one cpu column per
// auxiliary process, then one cpu column per registry identity.
func (w *Writer) WriteHeader(reg *registry.Registry, auxNames []string) error {
	cols := []string{"Day", "Time"}
	for _, name := range auxNames {
		cols = append(cols, "Mem "+name)
	}
	for _, name := range auxNames {
		cols = append(cols, "CPU "+name)
	}
	for _, id := range reg.Identities() {
		cols = append(cols, "CPU "+id.Name)
	}
	w.columns = len(cols)
	_, err := io.WriteString(w.out, strings.Join(cols, delimiter)+"\n")
	return err
}

// AppendRow writes one tick in header order. Auxiliary processes without a
// reading this tick keep their fields blank.
func (w *Writer) AppendRow(ts time.Time, aux []auxproc.Proc, reg *registry.Registry, res reconcile.Result) error {
	if w.columns == 0 {
		return errors.New("header not written")
	}

	fields := make([]string, 0, w.columns)
	fields = append(fields, ts.Format("2006-01-02"), ts.Format("15:04:05"))
	for _, p := range aux {
		fields = append(fields, w.memField(p))
	}
	for _, p := range aux {
		if !p.Sampled {
			fields = append(fields, "")
			continue
		}
		fields = append(fields, w.cpuField(p.CPU))
	}
	for _, id := range reg.Identities() {
		cpu, ok := res.CPU[id.ID]
		if !ok {
			cpu = reconcile.MissingCPU
		}
		fields = append(fields, w.cpuField(cpu))
	}

	if len(fields) != w.columns {
		return fmt.Errorf("row has %d fields, header has %d columns", len(fields), w.columns)
	}
	_, err := io.WriteString(w.out, strings.Join(fields, delimiter)+"\n")
	return err
}

func (w *Writer) memField(p auxproc.Proc) string {
	if !p.Sampled || p.Mem == "" {
		return ""
	}
	v, err := NormalizeMemory(p.Mem)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func (w *Writer) cpuField(v float64) string {
	if v == reconcile.MissingCPU {
		return "-1"
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if w.decimalComma {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

// NormalizeMemory converts a raw unit-suffixed memory value as printed by
// top ('m' for 10^6, 'g' for 10^9, plain kilobytes otherwise) into a single
// integer unit: "44.3g" → 44300000000, "9040m" → 9040000000,
// "13116" → 13116.
func NormalizeMemory(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errors.New("empty memory value")
	}

	mult := 1.0
	switch s[len(s)-1] {
	case 'g', 'G':
		mult = 1e9
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1e6
		s = s[:len(s)-1]
	case 't', 'T':
		mult = 1e12
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("parse memory value %q: %w", raw, err)
	}
	return strconv.ParseInt(fmt.Sprintf("%.0f", v*mult), 10, 64)
}
