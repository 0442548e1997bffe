// Package msglog keeps the decoded messages of every stream on disk, one
// directory per identifier, for diagnostics. Nothing on the fetch path reads
// them back.
package msglog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"hashdive-scraper/lib/jsonutil"
)

var messageFile = regexp.MustCompile(`^message_\d+\.json$`)

type Writer struct {
	dir string
}

func NewWriter(dir string) Writer {
	return Writer{dir: dir}
}

func (w Writer) Root() string {
	return w.dir
}

func (w Writer) Dir(id string) string {
	return filepath.Join(w.dir, id)
}

func checkIdentifier(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid identifier %q", id)
	}
	return nil
}

// Write replaces the captures of id with messages, numbered from zero in
// arrival order.
func (w Writer) Write(id string, messages []map[string]any) error {
	err := checkIdentifier(id)
	if err != nil {
		return err
	}
	dir := w.Dir(id)
	err = w.clear(dir)
	if err != nil {
		return err
	}
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	for i, msg := range messages {
		contents, err := jsonutil.MarshalIndent(msg)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("message_%d.json", i))
		err = os.WriteFile(path, contents, 0644)
		if err != nil {
			return err
		}
	}
	return nil
}

// clear removes earlier captures so a refetch with fewer messages does not
// leave stale ones behind.
func (w Writer) clear(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !messageFile.MatchString(entry.Name()) {
			continue
		}
		err = os.Remove(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a capture directory exists for id.
func (w Writer) Exists(id string) bool {
	if checkIdentifier(id) != nil {
		return false
	}
	info, err := os.Stat(w.Dir(id))
	return err == nil && info.IsDir()
}

// Count returns the number of captured messages for id, zero when there are none.
func (w Writer) Count(id string) (int, error) {
	if err := checkIdentifier(id); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(w.Dir(id))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && messageFile.MatchString(entry.Name()) {
			count++
		}
	}
	return count, nil
}

// Remove deletes the capture directory of id, a missing directory is not an error.
func (w Writer) Remove(id string) error {
	if err := checkIdentifier(id); err != nil {
		return err
	}
	return os.RemoveAll(w.Dir(id))
}
