package staff

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"
)

// ReadRecords parses an uploaded staff sheet into header-keyed records. The
// format is chosen by file extension: .csv or .xlsx (first worksheet).
func ReadRecords(filename string, r io.Reader) ([]map[string]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedImport, filepath.Ext(filename))
	}
}

func ReadCSV(r io.Reader) ([]map[string]string, error) {
	records, err := gocsv.CSVToMaps(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyImport
	}
	return records, nil
}

func ReadXLSX(r io.Reader) ([]map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("read xlsx: no worksheet found")
	}
	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	if len(rows) < 2 {
		return nil, ErrEmptyImport
	}

	header := rows[0]
	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rec := make(map[string]string, len(header))
		for i, name := range header {
			if strings.TrimSpace(name) == "" {
				continue
			}
			if i < len(row) {
				rec[name] = row[i]
			} else {
				rec[name] = ""
			}
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, ErrEmptyImport
	}
	return records, nil
}

// NormalizeRecords normalizes every record. Line numbers count the header as
// line 1 so they match what a user sees in a spreadsheet.
func NormalizeRecords(records []map[string]string) ([]ImportRow, []RowIssue) {
	var rows []ImportRow
	var failed []RowIssue
	seen := map[string]int{}
	for i, rec := range records {
		line := i + 2
		row, issues := NormalizeRecord(line, rec)
		if row.StaffNumber != "" {
			if first, dup := seen[row.StaffNumber]; dup {
				issues = append(issues, FieldIssue{Field: "staffNumber", Reason: fmt.Sprintf("duplicates line %d", first)})
			} else {
				seen[row.StaffNumber] = line
			}
		}
		if len(issues) > 0 {
			failed = append(failed, RowIssue{Line: line, Issues: issues})
			continue
		}
		rows = append(rows, row)
	}
	return rows, failed
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
