package tabular

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"hashdive-scraper/internal/record"
)

const IdentifierColumn = "user_address"

// integer columns are kept as ints so they round trip into records unchanged
var integerColumns = map[string]bool{
	"num_markets":     true,
	"block_watermark": true,
}

var ErrMissingIdentifierColumn = errors.New("input has no identifier column")

// ReadCSV opens path and parses it with Parse.
func ReadCSV(path string) ([]record.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// Parse reads a header line followed by one trader per line. Rows without an
// identifier are skipped, row order is kept.
func Parse(r io.Reader) ([]record.Row, error) {
	br := bufio.NewReader(r)
	first3, _ := br.Peek(3)
	if len(first3) == 3 && first3[0] == 0xEF && first3[1] == 0xBB && first3[2] == 0xBF {
		br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrMissingIdentifierColumn
	}
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == IdentifierColumn {
			idx = i
		}
	}
	if idx < 0 {
		return nil, ErrMissingIdentifierColumn
	}

	rows := []record.Row{}
	for {
		line, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(line) <= idx {
			continue
		}
		id := strings.TrimSpace(line[idx])
		if id == "" {
			continue
		}

		fields := map[string]any{}
		for i, value := range line {
			if i == idx || i >= len(header) || header[i] == "" {
				continue
			}
			fields[header[i]] = parseValue(header[i], strings.TrimSpace(value))
		}
		rows = append(rows, record.Row{Identifier: id, Fields: fields})
	}
	return rows, nil
}

func parseValue(column, value string) any {
	if value == "" || strings.EqualFold(value, "nan") {
		return nil
	}
	if integerColumns[column] {
		n, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return n
		}
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return int64(f)
		}
		return value
	}
	f, err := strconv.ParseFloat(value, 64)
	if err == nil {
		return f
	}
	return value
}

// Slice applies offset then limit, limit <= 0 means no limit.
func Slice[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
