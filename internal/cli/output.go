package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output — вывод CLI: данные в stdout, сообщения в stderr.
// В JSON-режиме данные печатаются одним JSON-значением на вызов.
type Output struct {
	jsonMode bool
	data     io.Writer
	notes    io.Writer
}

// NewOutput создаёт Output поверх stdout и stderr.
func NewOutput(jsonMode bool) *Output {
	return newOutputTo(jsonMode, os.Stdout, os.Stderr)
}

func newOutputTo(jsonMode bool, data, notes io.Writer) *Output {
	return &Output{jsonMode: jsonMode, data: data, notes: notes}
}

// Print печатает таблицу или, в JSON-режиме, jsonData.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.table(headers, rows)
}

func (o *Output) table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)
	writeRow(tw, headers)
	for _, row := range rows {
		for i := range row {
			if row[i] == "" {
				row[i] = "-"
			}
		}
		writeRow(tw, row)
	}
	_ = tw.Flush()
}

func writeRow(w io.Writer, cells []string) {
	fmt.Fprintln(w, strings.Join(cells, "\t"))
}

// JSON печатает v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(o.notes, "encode output: %v\n", err)
	}
}

// Line печатает непустые поля через два пробела.
func (o *Output) Line(fields ...string) {
	kept := fields[:0:0]
	for _, f := range fields {
		if f != "" {
			kept = append(kept, f)
		}
	}
	fmt.Fprintln(o.data, strings.Join(kept, "  "))
}

// Success печатает итоговое сообщение в stderr. В JSON-режиме молчит,
// чтобы stdout и stderr можно было объединить без порчи JSON.
func (o *Output) Success(msg string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.notes, msg)
}
