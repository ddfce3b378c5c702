package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxSearchLength = 100

var searchReplacer = strings.NewReplacer(
	`\`, "",
	"%", "",
	"_", "",
	",", " ",
	"(", " ",
	")", " ",
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// SanitizeSearch makes a user supplied search term safe to embed in a LIKE pattern.
// LIKE wildcards and filter separators are dropped, runs of whitespace collapsed
// and the result capped to 100 characters.
func SanitizeSearch(q string) string {
	q = searchReplacer.Replace(q)
	q = strings.Join(strings.Fields(q), " ")
	if r := []rune(q); len(r) > maxSearchLength {
		q = strings.TrimSpace(string(r[:maxSearchLength]))
	}
	return q
}

// Getwd walks up from the working directory to the module root (the directory holding go.mod).
// go test runs with the package directory as working directory, hence the walk.
// Deployed binaries have no go.mod around; the working directory is used as is.
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// StringInSlice reports whether s is one of list.
func StringInSlice(s string, list []string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ParseTime parses an RFC3339 timestamp or a YYYY-MM-DD date (UTC midnight).
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

// ParseEndTime parses an exclusive upper bound: a date means the start of the next day.
func ParseEndTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.AddDate(0, 0, 1), nil
	}
	return ParseTime(s)
}
