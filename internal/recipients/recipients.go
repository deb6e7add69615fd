// Package recipients loads the recipient list from a spreadsheet, CSV or
// JSON file. The first row (or the object keys) names the fields.
package recipients

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported recipient file format")
	ErrNoHeader          = errors.New("recipient file has no header row")
)

// Source yields the full recipient list for one dispatch batch.
type Source interface {
	Load(ctx context.Context) ([]*model.Recipient, error)
}

// FileSource reads recipients from a local file; the format follows the
// extension (.xlsx, .csv, .json).
type FileSource struct {
	Path  string
	Sheet string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Load(_ context.Context) ([]*model.Recipient, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read recipients %s: %w", s.Path, err)
	}

	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(bytes.NewReader(raw), s.Sheet)
	case ".csv":
		return ParseCSV(bytes.NewReader(raw))
	case ".json":
		return ParseJSON(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(s.Path))
	}
}

// StaticSource serves a fixed list, used by tests and the CLI.
type StaticSource []*model.Recipient

func (s StaticSource) Load(_ context.Context) ([]*model.Recipient, error) {
	return s, nil
}

// ParseXLSX reads the named sheet, or the first one when sheet is empty.
func ParseXLSX(r io.Reader, sheet string) ([]*model.Recipient, error) {
	xl, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer func() { _ = xl.Close() }()

	if sheet == "" {
		sheet = xl.GetSheetName(0)
	}
	rows, err := xl.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return fromRows(rows)
}

func ParseCSV(r io.Reader) ([]*model.Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return fromRows(rows)
}

// ParseJSON accepts an array of flat objects. Key order is kept.
func ParseJSON(r io.Reader) ([]*model.Recipient, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	var out []*model.Recipient
	for dec.More() {
		rec, err := decodeObject(dec)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeObject(dec *json.Decoder) (*model.Recipient, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	rec := model.NewRecipient()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		rec.Set(key, stringify(v))
	}
	return rec, expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("parse json: expected %q, got %v", want, tok)
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

func fromRows(rows [][]string) ([]*model.Recipient, error) {
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	out := make([]*model.Recipient, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rec := model.NewRecipient()
		for i, key := range header {
			if key == "" {
				continue
			}
			var v string
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			rec.Set(key, v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
