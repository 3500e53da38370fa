// Package spreadsheet reads the wide source table from .xlsx or .csv
// files into the study's WideTable shape.
package spreadsheet

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"physiostat/domain/study"
	"physiostat/internal"
)

// Reader handles reading Excel and CSV files
type Reader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	log      *internal.Logger
}

// NewReader creates a reader that handles both Excel and CSV files
func NewReader(filePath string, log *internal.Logger) *Reader {
	if log == nil {
		log = internal.DefaultLogger
	}
	fileType := "xlsx"
	if strings.ToLower(filepath.Ext(filePath)) == ".csv" {
		fileType = "csv"
	}
	return &Reader{filePath: filePath, fileType: fileType, log: log}
}

// ReadWide reads the wide table from the configured file.
func (r *Reader) ReadWide(ctx context.Context) (*study.WideTable, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSV()
	case "xlsx":
		return r.readExcel()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

// readExcel reads Sheet1 into the wide shape
func (r *Reader) readExcel() (*study.WideTable, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1: %w", err)
	}
	r.log.Info("[Reader] read Sheet1 of %s (%d rows)", r.filePath, len(rows))

	return r.assemble(rows)
}

// readCSV reads a comma- or semicolon-delimited file into the wide shape
func (r *Reader) readCSV() (*study.WideTable, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	// Sniff the delimiter from the first line: European exports of the
	// source spreadsheet use semicolons.
	head := make([]byte, 4096)
	n, _ := file.Read(head)
	delim := ','
	if firstLine := strings.SplitN(string(head[:n]), "\n", 2)[0]; strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		delim = ';'
	}
	if _, err := file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind CSV file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	r.log.Info("[Reader] read %s (%d rows, delimiter %q)", r.filePath, len(records), string(delim))

	return r.assemble(records)
}

func (r *Reader) assemble(rows [][]string) (*study.WideTable, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("source file must have a header row and at least one data row")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	wide := &study.WideTable{Headers: headers}
	for _, raw := range rows[1:] {
		if isBlank(raw) {
			continue
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(raw) {
				row[h] = strings.TrimSpace(raw[i])
			}
		}
		wide.Rows = append(wide.Rows, row)
	}
	return wide, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
