package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/lib/jsonutil"
)

var ErrNotFound = errors.New("record not found")
var ErrInvalidIdentifier = errors.New("invalid identifier")

const fileExt = ".json"

// Store keeps one json document per identifier in a directory.
type Store struct {
	dir string
}

func NewStore(dir string) Store {
	assert.NotEmptyStr(dir)
	return Store{dir: dir}
}

func (s Store) Dir() string {
	return s.dir
}

func validateIdentifier(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) ||
		strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

// Path returns the file a record is stored at, it does not check that the record exists.
func (s Store) Path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func (s Store) Exists(id string) (bool, error) {
	if err := validateIdentifier(id); err != nil {
		return false, err
	}
	info, err := os.Stat(s.Path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s Store) Read(id string) (Record, error) {
	if err := validateIdentifier(id); err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(s.Path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	err = jsonutil.Unmarshal(contents, &rec)
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

// Write replaces the record for id. The document is written to a temporary
// file in the same directory and renamed over the old one, readers never see
// a partially written record.
func (s Store) Write(id string, rec Record) error {
	if err := validateIdentifier(id); err != nil {
		return err
	}
	contents, err := jsonutil.MarshalIndent(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}

	err = os.MkdirAll(s.dir, 0755)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+id+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = tmp.Write(contents)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	return os.Rename(tmpPath, s.Path(id))
}

func (s Store) Delete(id string) error {
	if err := validateIdentifier(id); err != nil {
		return err
	}
	err := os.Remove(s.Path(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// List returns every stored identifier in lexical order.
func (s Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != fileExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
