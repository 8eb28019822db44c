// Package roster loads the list of locations a run processes. Rosters
// are CSV or XLSX tables with name and state columns plus optional
// parish and FIPS columns; a run without a table uses the embedded
// default roster.
package roster

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

//go:embed counties.csv
var defaultRoster []byte

// Location is one county-level unit of work.
type Location struct {
	Name     string
	State    string
	IsParish bool
	FIPS     string
}

// FullName formats the location the way searches, logs, and output
// files refer to it: "Decatur County, Indiana".
func (l Location) FullName() string {
	unit := "County"
	if l.IsParish {
		unit = "Parish"
	}
	return fmt.Sprintf("%s %s, %s", l.Name, unit, l.State)
}

// Load reads the roster at path, dispatching on the file extension.
// An empty path selects the embedded default roster.
func Load(path string) ([]Location, error) {
	if path == "" {
		return Default()
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open roster: %w", err)
		}
		defer f.Close()
		return parseCSV(f)
	case ".xlsx", ".xlsm":
		return loadWorkbook(path)
	default:
		return nil, fmt.Errorf("unsupported roster format %q (expected .csv or .xlsx)", filepath.Ext(path))
	}
}

// Default returns the embedded roster.
func Default() ([]Location, error) {
	return parseCSV(bytes.NewReader(defaultRoster))
}

func parseCSV(r io.Reader) ([]Location, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster CSV: %w", err)
	}
	return fromRows(rows)
}

func loadWorkbook(path string) ([]Location, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("roster workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read roster sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows)
}

// fromRows builds locations from a header row plus data rows. Rows
// missing a name or state are skipped; a header missing either column
// is a configuration error.
func fromRows(rows [][]string) ([]Location, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("roster table is empty")
	}

	cols, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	locations := make([]Location, 0, len(rows)-1)
	for _, row := range rows[1:] {
		loc := Location{
			Name:  cell(row, cols.name),
			State: cell(row, cols.state),
		}
		if loc.Name == "" || loc.State == "" {
			continue
		}
		if cols.parish >= 0 {
			loc.IsParish = truthy(cell(row, cols.parish))
		}
		if cols.fips >= 0 {
			loc.FIPS = cell(row, cols.fips)
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

type columns struct {
	name   int
	state  int
	parish int
	fips   int
}

func mapColumns(header []string) (columns, error) {
	cols := columns{name: -1, state: -1, parish: -1, fips: -1}
	for i, raw := range header {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "name", "county", "county_name", "location":
			if cols.name < 0 {
				cols.name = i
			}
		case "state", "state_name":
			if cols.state < 0 {
				cols.state = i
			}
		case "is_parish", "parish":
			cols.parish = i
		case "fips", "fips_code":
			cols.fips = i
		}
	}
	if cols.name < 0 || cols.state < 0 {
		return cols, fmt.Errorf("roster table must have name and state columns, got %v", header)
	}
	return cols, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true
	}
	return false
}
