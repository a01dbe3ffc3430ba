package ingestion

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Format is an uploaded file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// headerSearchRows bounds how far down a sheet we look for the header row.
// Published spreadsheets often carry a title block above it.
const headerSearchRows = 10

// DetectFormat resolves the declared format, falling back to the file extension.
func DetectFormat(filename, declared string) (Format, error) {
	f := strings.ToLower(strings.TrimSpace(declared))
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	}
	switch Format(f) {
	case FormatCSV, FormatJSON, FormatXLSX, FormatXLS:
		return Format(f), nil
	case "txt":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: unsupported file format %q", domain.ErrConfiguration, f)
}

// Parser turns tabular and JSON documents into raw records.
type Parser struct {
	mapper *FieldMapper
}

// NewParser creates a parser resolving headers with mapper. A nil mapper uses
// the shared synonyms only.
func NewParser(mapper *FieldMapper) *Parser {
	if mapper == nil {
		mapper = NewFieldMapper(nil)
	}
	return &Parser{mapper: mapper}
}

// Parse lazily yields records from r. A malformed record is yielded as a
// ParseError and parsing continues; a malformed document ends the sequence
// with a single ParseError.
func (p *Parser) Parse(r io.Reader, format Format) iter.Seq2[domain.RawRecord, error] {
	switch format {
	case FormatCSV:
		return p.records(csvRows(r))
	case FormatJSON:
		return p.jsonRecords(r)
	case FormatXLSX:
		return p.records(xlsxRows(r))
	case FormatXLS:
		return p.records(xlsRows(r))
	}
	return func(yield func(domain.RawRecord, error) bool) {
		yield(nil, fmt.Errorf("%w: unsupported file format %q", domain.ErrConfiguration, format))
	}
}

// records finds the header row and maps the following rows to records.
func (p *Parser) records(rows iter.Seq2[[]string, error]) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		var columns []string
		seen := 0
		for row, err := range rows {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			seen++
			if columns == nil {
				if cols := p.mapper.Columns(row); hasField(cols, domain.FieldName) {
					columns = cols
					continue
				}
				if seen >= headerSearchRows {
					break
				}
				continue
			}
			if blankRow(row) {
				continue
			}
			if !yield(Record(columns, row), nil) {
				return
			}
		}
		if columns == nil && seen > 0 {
			yield(nil, fmt.Errorf("%w: no header row with a name column", domain.ErrParse))
		}
	}
}

func (p *Parser) jsonRecords(r io.Reader) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		dec := json.NewDecoder(r)
		dec.UseNumber()
		tok, err := dec.Token()
		if err != nil {
			yield(nil, fmt.Errorf("%w: json: %v", domain.ErrParse, err))
			return
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			yield(nil, fmt.Errorf("%w: json: expected an array of objects", domain.ErrParse))
			return
		}
		for i := 0; dec.More(); i++ {
			var obj map[string]any
			if err := dec.Decode(&obj); err != nil {
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &typeErr) {
					// A non-object element; the decoder has consumed it.
					if !yield(nil, fmt.Errorf("%w: json element %d: not an object", domain.ErrParse, i)) {
						return
					}
					continue
				}
				yield(nil, fmt.Errorf("%w: json element %d: %v", domain.ErrParse, i, err))
				return
			}
			rec := make(domain.RawRecord, len(obj))
			for k, v := range obj {
				f := p.mapper.Field(k)
				if f == "" {
					continue
				}
				if s := jsonString(v); s != "" {
					if _, dup := rec[f]; !dup {
						rec[f] = s
					}
				}
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := jsonString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func csvRows(r io.Reader) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		cr.TrimLeadingSpace = true
		first := true
		for {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if errors.As(err, &pe) {
					if !yield(nil, fmt.Errorf("%w: csv line %d: %v", domain.ErrParse, pe.Line, pe.Err)) {
						return
					}
					continue
				}
				yield(nil, fmt.Errorf("%w: csv: %v", domain.ErrParse, err))
				return
			}
			if first && len(row) > 0 {
				row[0] = strings.TrimPrefix(row[0], "\ufeff")
				first = false
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func xlsxRows(r io.Reader) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		f, err := excelize.OpenReader(r)
		if err != nil {
			yield(nil, fmt.Errorf("%w: xlsx: %v", domain.ErrParse, err))
			return
		}
		defer f.Close()

		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			yield(nil, fmt.Errorf("%w: xlsx: workbook has no sheets", domain.ErrParse))
			return
		}
		rows, err := f.Rows(sheets[0])
		if err != nil {
			yield(nil, fmt.Errorf("%w: xlsx: %v", domain.ErrParse, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				if !yield(nil, fmt.Errorf("%w: xlsx row: %v", domain.ErrParse, err)) {
					return
				}
				continue
			}
			if !yield(cols, nil) {
				return
			}
		}
	}
}

func xlsRows(r io.Reader) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		data, err := io.ReadAll(r)
		if err != nil {
			yield(nil, fmt.Errorf("%w: xls: %v", domain.ErrParse, err))
			return
		}
		wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			yield(nil, fmt.Errorf("%w: xls: %v", domain.ErrParse, err))
			return
		}
		sheet := wb.GetSheet(0)
		if sheet == nil {
			yield(nil, fmt.Errorf("%w: xls: workbook has no sheets", domain.ErrParse))
			return
		}
		for i := 0; i <= int(sheet.MaxRow); i++ {
			row := sheet.Row(i)
			if row == nil {
				continue
			}
			cols := make([]string, row.LastCol())
			for j := row.FirstCol(); j < row.LastCol(); j++ {
				cols[j] = row.Col(j)
			}
			if !yield(cols, nil) {
				return
			}
		}
	}
}

func hasField(columns []string, field string) bool {
	for _, c := range columns {
		if c == field {
			return true
		}
	}
	return false
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
