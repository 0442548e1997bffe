package leaderboard

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"hashdive-scraper/internal/extract"
	"hashdive-scraper/internal/tabular"

	"github.com/apache/arrow/go/v17/arrow/ipc"
)

var ErrNoTable = errors.New("message carries no table")

// Table is one decoded dataframe, every row has one value per column and
// nulls are empty strings.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Column returns the index of a column or -1.
func (t Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// ColumnName turns a dataframe column label into the snake case header the
// trader csv uses, "Win Rate" becomes win_rate.
func ColumnName(label string) string {
	name := nonWord.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "_")
	return strings.Trim(name, "_")
}

// pandas keeps the index as an extra column, it carries no data
func isIndexColumn(name string) bool {
	return strings.HasPrefix(name, "__index_level_")
}

// TableOf decodes the arrow dataframe of a forward message.
func TableOf(tree map[string]any) (Table, error) {
	frame, ok := extract.NewElement(tree)["arrowDataFrame"].(map[string]any)
	if !ok {
		return Table{}, ErrNoTable
	}
	encoded, _ := frame["data"].(string)
	if encoded == "" {
		return Table{}, ErrNoTable
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Table{}, fmt.Errorf("table data: %w", err)
	}
	return DecodeArrow(data)
}

// DecodeArrow reads an arrow ipc stream into a Table.
func DecodeArrow(data []byte) (Table, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return Table{}, fmt.Errorf("arrow stream: %w", err)
	}
	defer reader.Release()

	schema := reader.Schema()
	keep := []int{}
	table := Table{}
	for i, field := range schema.Fields() {
		if isIndexColumn(field.Name) {
			continue
		}
		keep = append(keep, i)
		table.Columns = append(table.Columns, ColumnName(field.Name))
	}

	for reader.Next() {
		rec := reader.Record()
		for row := 0; row < int(rec.NumRows()); row++ {
			values := make([]string, len(keep))
			for j, col := range keep {
				column := rec.Column(col)
				if column.IsNull(row) {
					continue
				}
				values[j] = column.ValueStr(row)
			}
			table.Rows = append(table.Rows, values)
		}
	}
	if err := reader.Err(); err != nil {
		return Table{}, fmt.Errorf("arrow stream: %w", err)
	}
	if table.Column(tabular.IdentifierColumn) < 0 {
		return table, fmt.Errorf("%w: columns %v", tabular.ErrMissingIdentifierColumn, table.Columns)
	}
	return table, nil
}
