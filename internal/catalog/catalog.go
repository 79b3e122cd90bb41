// Package catalog loads the organizations catalog from CSV or XLSX files and
// seeds it into the store.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

// URLSeparator joins several publication URLs of one organization.
const URLSeparator = "; "

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// Row is one catalog line. Line is the 1-based source line for error reports.
type Row struct {
	Line           int
	Acronym        string
	Name           string
	Region         string
	HomePageURL    string
	PublicationURL string
}

// RowError reports a line that was skipped.
type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// Result is a parsed catalog.
type Result struct {
	Organizations []crawler.Organization
	Skipped       []RowError
}

// header aliases, lowercased.
var columns = map[string]string{
	"acronym":          "acronym",
	"organization":     "acronym",
	"name":             "name",
	"full_name":        "name",
	"region":           "region",
	"home_page_url":    "home_page_url",
	"home_page":        "home_page_url",
	"homepage":         "home_page_url",
	"publication_url":  "publication_url",
	"publication_urls": "publication_url",
	"publications":     "publication_url",
}

var required = []string{"acronym", "region", "publication_url"}

// Load reads the catalog at path, choosing the parser by extension.
func Load(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	var rows [][]string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = readCSV(f)
	case ".xlsx":
		rows, err = readXLSX(f)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Result{}, err
	}
	return Parse(rows)
}

// Parse maps raw records (header first) to organizations.
func Parse(records [][]string) (Result, error) {
	if len(records) == 0 {
		return Result{}, errors.New("catalog is empty")
	}
	index, err := headerIndex(records[0])
	if err != nil {
		return Result{}, err
	}

	var res Result
	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		row := Row{
			Line:           i + 2,
			Acronym:        cell(rec, index, "acronym"),
			Name:           cell(rec, index, "name"),
			Region:         cell(rec, index, "region"),
			HomePageURL:    cell(rec, index, "home_page_url"),
			PublicationURL: cell(rec, index, "publication_url"),
		}
		if msg := ValidateRow(row); msg != "" {
			res.Skipped = append(res.Skipped, RowError{Line: row.Line, Error: msg})
			continue
		}
		rows = append(rows, row)
	}
	res.Organizations = Group(rows)
	return res, nil
}

// ValidateRow returns an error message, or "" when the row is usable.
func ValidateRow(row Row) string {
	if row.Acronym == "" {
		return "acronym is required"
	}
	if row.Region == "" {
		return "region is required"
	}
	if row.PublicationURL == "" {
		return "publication url is required"
	}
	for _, u := range splitURLs(row.PublicationURL) {
		if !crawler.IsValidURL(u) {
			return fmt.Sprintf("invalid publication url %q", u)
		}
	}
	if row.HomePageURL != "" && !crawler.IsValidURL(row.HomePageURL) {
		return fmt.Sprintf("invalid home page url %q", row.HomePageURL)
	}
	return ""
}

// Group merges rows sharing (acronym, region) in first-seen order. Their
// distinct publication URLs are joined with URLSeparator; name and home page
// come from the first row that has them.
func Group(rows []Row) []crawler.Organization {
	type key struct{ acronym, region string }
	var (
		out   []crawler.Organization
		index = map[key]int{}
		seen  = map[key]map[string]bool{}
		urls  = map[key][]string{}
	)
	for _, row := range rows {
		k := key{row.Acronym, row.Region}
		i, ok := index[k]
		if !ok {
			out = append(out, crawler.Organization{Acronym: row.Acronym, Region: row.Region})
			i = len(out) - 1
			index[k] = i
			seen[k] = map[string]bool{}
		}
		org := &out[i]
		if org.Name == "" {
			org.Name = row.Name
		}
		if org.HomePageURL == "" {
			org.HomePageURL = row.HomePageURL
		}
		for _, u := range splitURLs(row.PublicationURL) {
			if !seen[k][u] {
				seen[k][u] = true
				urls[k] = append(urls[k], u)
			}
		}
	}
	for k, i := range index {
		out[i].PublicationURLs = strings.Join(urls[k], URLSeparator)
	}
	return out
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		name = strings.ReplaceAll(name, " ", "_")
		if col, ok := columns[name]; ok {
			if _, dup := index[col]; !dup {
				index[col] = i
			}
		}
	}
	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("catalog header is missing %s", strings.Join(missing, ", "))
	}
	return index, nil
}

func cell(rec []string, index map[string]int, col string) string {
	i, ok := index[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// splitURLs accepts URLs separated by ";", "," or newlines.
func splitURLs(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ',' || r == '\n' || r == '\r'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = crawler.FixURL(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func readerName(r io.Reader) string {
	if f, ok := r.(*os.File); ok {
		return f.Name()
	}
	return "catalog"
}
