package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mailroute/internal/constants"
	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/pkg/metrics"
)

const (
	extEML  = ".eml"
	extMbox = ".mbox"
	extJSON = ".json"
)

// Supported reports whether path has an extension LoadPaths understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case extEML, extMbox, extJSON:
		return true
	}
	return false
}

// LoadFile parses one .eml, .mbox or record .json file.
func LoadFile(path string, received time.Time) ([]record.Record, []error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extEML:
		rec, err := ParseEMLFile(path, received)
		if err != nil {
			return nil, []error{err}
		}
		return []record.Record{rec}, nil
	case extMbox:
		return ReadMboxFile(path, received)
	case extJSON:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, []error{err}
		}
		rec, err := record.FromJSON(data)
		if err != nil {
			return nil, []error{fmt.Errorf("%s: %w", path, err)}
		}
		return []record.Record{rec}, nil
	default:
		return nil, []error{fmt.Errorf("%s: unsupported file type", path)}
	}
}

// LoadPaths reads files and the supported files directly inside directories.
// Directory entries are visited in name order and are not recursed into.
// Unreadable inputs are reported and skipped.
func LoadPaths(paths []string, log logger.Logger) ([]record.Record, []error) {
	now := time.Now()
	var records []record.Record
	var errs []error

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		files := []string{path}
		if info.IsDir() {
			files, err = listDir(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			log.Infow("Found record files", "directory", path, "count", len(files))
		}

		for _, file := range files {
			recs, fileErrs := LoadFile(file, now)
			records = append(records, recs...)
			for range recs {
				metrics.IncIntakeRecords(constants.IntakeSourceFile, true)
			}
			for _, err := range fileErrs {
				metrics.IncIntakeRecords(constants.IntakeSourceFile, false)
				log.Warnw("Failed to parse record file", "file", file, "error", err)
			}
			errs = append(errs, fileErrs...)
		}
	}

	return records, errs
}

func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !Supported(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
