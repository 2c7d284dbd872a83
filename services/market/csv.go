package market

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LoadCSV reads kline rows (timestamp_ms,open,high,low,close,volume)
// into a Series. Exchange exports are sometimes UTF-16 with a BOM, so
// the file is sniffed and decoded before parsing. Malformed rows are
// skipped rather than failing the whole load.
func LoadCSV(path, symbol string) (*Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	var reader io.Reader = bufio.NewReader(file)
	head := make([]byte, 2)
	if n, _ := file.Read(head); n == 2 && ((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)) {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek csv: %w", err)
		}
		reader = transform.NewReader(bufio.NewReader(file), unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	} else {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek csv: %w", err)
		}
		reader = bufio.NewReader(file)
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var bars []Bar
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line++
			continue
		}
		if len(rec) < 6 {
			line++
			continue
		}
		if line == 0 && (strings.EqualFold(rec[0], "timestamp") || strings.EqualFold(rec[0], "timestamp_ms")) {
			line++
			continue
		}
		line++

		tsStr := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff")
		tsMs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		bars = append(bars, Bar{
			Timestamp: time.UnixMilli(tsMs).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return NewSeries(symbol, bars), nil
}
