// Package tabular parses delimited text and spreadsheet sheets into uniform
// row records keyed by column header.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Delimiter used by the survey CSV exports handled by this deployment.
const Delimiter = ';'

// Row is one record of a table: the header order plus a column→value map.
// Values are kept as raw text, never coerced, so leading zeros and encoded
// characters survive untouched.
type Row struct {
	Columns []string
	Values  map[string]string
}

// Get returns the value of the first column whose name matches key
// case-insensitively.
func (r Row) Get(key string) (string, bool) {
	for _, col := range r.Columns {
		if strings.EqualFold(col, key) {
			return r.Values[col], true
		}
	}
	return "", false
}

// ReadCSV parses semicolon-delimited text. The first line provides column
// names, empty lines are skipped and ragged records are tolerated (missing
// trailing cells read as empty). Structural errors name the offending
// row and column.
func ReadCSV(text string) ([]Row, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("malformed delimited text at row %d column %d: %w",
				parseErr.Line, parseErr.Column, parseErr.Err)
		}
		return nil, fmt.Errorf("malformed delimited text: %w", err)
	}

	return rowsFromRecords(records), nil
}

// ReadWorkbook parses the first sheet of a binary workbook. Cell values are
// read in their formatted representation so locale-formatted text is
// preserved.
func ReadWorkbook(raw []byte) ([]Row, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	records, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	return rowsFromRecords(records), nil
}

func rowsFromRecords(records [][]string) []Row {
	if len(records) == 0 {
		return nil
	}

	header := make([]string, len(records[0]))
	for i, name := range records[0] {
		header[i] = strings.TrimSpace(name)
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if isEmpty(record) {
			continue
		}
		values := make(map[string]string, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(record) {
				values[col] = record[i]
			} else {
				values[col] = ""
			}
		}
		rows = append(rows, Row{Columns: header, Values: values})
	}
	return rows
}

func isEmpty(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
