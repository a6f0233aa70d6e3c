package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/leapstack-labs/leapmetrics/internal/server"
	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// Output formats.
const (
	formatTable    = "table"
	formatJSON     = "json"
	formatCSV      = "csv"
	formatMarkdown = "md"
)

var formats = []string{formatTable, formatJSON, formatCSV, formatMarkdown}

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatCSV, formatMarkdown, "markdown":
		return nil
	}
	return fmt.Errorf("unknown format %q, expected one of %s", format, strings.Join(formats, ", "))
}

// renderResults writes rs in the given format.
func renderResults(w io.Writer, rs *adapter.ResultSet, format string) error {
	if format == formatJSON {
		rows := make([]map[string]any, 0, len(rs.Rows))
		for _, r := range rs.Rows {
			row := make(map[string]any, len(rs.Columns))
			for i, col := range rs.Columns {
				if i < len(r) {
					row[col] = normalize(r[i])
				}
			}
			rows = append(rows, row)
		}
		return writeJSON(w, rows)
	}

	header := make(table.Row, len(rs.Columns))
	for i, col := range rs.Columns {
		header[i] = col
	}
	rows := make([]table.Row, len(rs.Rows))
	for i, r := range rs.Rows {
		row := make(table.Row, len(r))
		for j, v := range r {
			row[j] = formatValue(v)
		}
		rows[i] = row
	}
	return renderTable(w, header, rows, format, true)
}

// renderTable writes header and rows as a table, CSV or markdown.
func renderTable(w io.Writer, header table.Row, rows []table.Row, format string, counted bool) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(header)
	t.AppendRows(rows)

	var out string
	switch format {
	case formatCSV:
		out = t.RenderCSV()
	case formatMarkdown, "markdown":
		out = t.RenderMarkdown()
	default:
		if len(rows) == 0 && counted {
			_, err := fmt.Fprintln(w, "(0 rows)")
			return err
		}
		out = t.Render()
		if counted {
			out += fmt.Sprintf("\n(%d rows)", len(rows))
		}
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

// renderFields lists fields.
func renderFields(w io.Writer, fields []*model.Field, format string) error {
	infos := make([]server.FieldInfo, len(fields))
	for i, f := range fields {
		infos[i] = server.NewFieldInfo(f)
	}
	if format == formatJSON {
		return writeJSON(w, infos)
	}
	rows := make([]table.Row, len(infos))
	for i, f := range infos {
		rows[i] = table.Row{f.ID, f.FieldType, f.Type, f.Label, f.Description}
	}
	return renderTable(w, table.Row{"Field", "Field type", "Type", "Label", "Description"}, rows, format, false)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", normalize(v))
}
