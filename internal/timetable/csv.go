package timetable

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// ErrMissingColumns is returned when a timetable file lacks the day, time or room column.
var ErrMissingColumns = errors.New("timetable: missing required columns")

var headerAliases = map[string]string{
	"DAY": "DAY", "GUN": "DAY", "DATE": "DAY", "TARIH": "DAY",
	"TIME": "TIME", "SAAT": "TIME", "HOURS": "TIME",
	"ROOM": "ROOM", "ROOMS": "ROOM", "SINAV YERI": "ROOM", "SALON": "ROOM", "DERSLIK": "ROOM",
	"SUBJECT": "SUBJECT", "DERSLER": "SUBJECT", "DERS": "SUBJECT", "COURSE": "SUBJECT", "EXAM": "SUBJECT",
}

var requiredColumns = []string{"DAY", "TIME", "ROOM"}

// aliasReader rewrites the header record to the canonical column names before gocsv maps it.
type aliasReader struct {
	*csv.Reader
	headerDone bool
	headerErr  error
}

func (a *aliasReader) Read() ([]string, error) {
	record, err := a.Reader.Read()
	if err != nil || a.headerDone {
		return record, err
	}
	a.headerDone = true
	record, a.headerErr = canonicalHeader(record)
	return record, a.headerErr
}

func (a *aliasReader) ReadAll() ([][]string, error) {
	var records [][]string
	for {
		record, err := a.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}

func canonicalHeader(record []string) ([]string, error) {
	out := make([]string, len(record))
	present := make(map[string]bool, len(record))
	for i, col := range record {
		key := foldDay(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if canonical, ok := headerAliases[key]; ok {
			out[i] = canonical
			present[canonical] = true
			continue
		}
		out[i] = key
	}
	var missing []string
	for _, col := range requiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return out, nil
}

// LoadCSV reads a timetable CSV with Turkish or English headers. The delimiter (comma or
// semicolon) is taken from the header line. Row numbers count the header as line 1.
func LoadCSV(r io.Reader) ([]RawRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read timetable: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumns)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var rows []RawRow
	alias := &aliasReader{Reader: reader}
	if err := gocsv.UnmarshalCSV(alias, &rows); err != nil {
		if alias.headerErr != nil {
			return nil, alias.headerErr
		}
		return nil, fmt.Errorf("decode timetable: %w", err)
	}
	for i := range rows {
		rows[i].Row = i + 2
	}
	return rows, nil
}

func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}
