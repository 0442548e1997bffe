package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const megabyte = 1024 * 1024

type LogFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

func (f LogFile) SizeMB() float64 {
	return float64(f.Size) / megabyte
}

// AgeDays is the number of whole days since the file was modified.
func (f LogFile) AgeDays(now time.Time) int {
	return int(now.Sub(f.ModTime) / (24 * time.Hour))
}

// ListLogFiles returns the *.log files directly inside dir, largest first.
func ListLogFiles(dir string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("log directory %s does not exist", dir)
	}
	if err != nil {
		return nil, err
	}

	files := []LogFile{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, LogFile{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Size > files[j].Size
	})
	return files, nil
}

// Criteria select log files for deletion, a zero value disables that check.
type Criteria struct {
	MaxAgeDays int
	MaxSizeMB  float64
}

func (c Criteria) Empty() bool {
	return c.MaxAgeDays <= 0 && c.MaxSizeMB <= 0
}

type Selected struct {
	File   LogFile
	Reason string
}

// SelectLogFiles picks files older than MaxAgeDays or larger than MaxSizeMB.
func SelectLogFiles(files []LogFile, criteria Criteria, now time.Time) []Selected {
	out := []Selected{}
	for _, file := range files {
		reason := ""
		if criteria.MaxAgeDays > 0 {
			if age := file.AgeDays(now); age > criteria.MaxAgeDays {
				reason = fmt.Sprintf("older than %d days (age: %d days)", criteria.MaxAgeDays, age)
			}
		}
		if criteria.MaxSizeMB > 0 && file.SizeMB() > criteria.MaxSizeMB {
			reason = fmt.Sprintf("larger than %g MB (size: %.2f MB)", criteria.MaxSizeMB, file.SizeMB())
		}
		if reason != "" {
			out = append(out, Selected{File: file, Reason: reason})
		}
	}
	return out
}

type LogReport struct {
	DryRun  bool
	Deleted int
	Failed  int
	FreedMB float64
}

func DeleteLogFiles(selected []Selected, dryRun bool) LogReport {
	report := LogReport{DryRun: dryRun}
	for _, s := range selected {
		if dryRun {
			report.Deleted++
			report.FreedMB += s.File.SizeMB()
			continue
		}
		err := os.Remove(s.File.Path)
		if err != nil {
			report.Failed++
			continue
		}
		report.Deleted++
		report.FreedMB += s.File.SizeMB()
	}
	return report
}
