package leaderboard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"hashdive-scraper/internal/tabular"
)

var ErrNoPages = errors.New("no page files")

func pagePath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("page_%d.csv", n))
}

// WritePage stores one page as dir/page_N.csv.
func WritePage(dir string, n int, table Table) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	f, err := os.Create(pagePath(dir, n))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write(table.Columns)
	if err != nil {
		return err
	}
	err = w.WriteAll(table.Rows)
	if err != nil {
		return err
	}
	return f.Close()
}

// PageFiles lists the page files of dir in page order.
func PageFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "page_*.csv"))
	if err != nil {
		return nil, err
	}
	type page struct {
		n    int
		path string
	}
	pages := []page{}
	for _, path := range matches {
		stem := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "page_"), ".csv")
		n, err := strconv.Atoi(stem)
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: path})
	}
	slices.SortFunc(pages, func(a, b page) int { return a.n - b.n })

	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.path
	}
	return paths, nil
}

func readPage(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, err
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return Table{}, err
	}
	return Table{Columns: header, Rows: rows}, nil
}

// Combine concatenates the page files of dir into out in page order. The
// header is the union of the page headers in first seen order, cells a page
// lacks are left empty. It returns the number of rows written.
func Combine(dir, out string) (int, error) {
	paths, err := PageFiles(dir)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("%w in %s", ErrNoPages, dir)
	}

	tables := make([]Table, 0, len(paths))
	header := []string{}
	for _, path := range paths {
		table, err := readPage(path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		for _, c := range table.Columns {
			if !slices.Contains(header, c) {
				header = append(header, c)
			}
		}
		tables = append(tables, table)
	}
	if !slices.Contains(header, tabular.IdentifierColumn) {
		return 0, tabular.ErrMissingIdentifierColumn
	}

	err = os.MkdirAll(filepath.Dir(out), 0755)
	if err != nil {
		return 0, err
	}
	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write(header)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, table := range tables {
		positions := make([]int, len(table.Columns))
		for i, c := range table.Columns {
			positions[i] = slices.Index(header, c)
		}
		for _, row := range table.Rows {
			line := make([]string, len(header))
			for i, value := range row {
				if i < len(positions) {
					line[positions[i]] = value
				}
			}
			err = w.Write(line)
			if err != nil {
				return written, err
			}
			written++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return written, err
	}
	return written, f.Close()
}
