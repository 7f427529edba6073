package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"pdm-pipeline/core/apperr"
)

// ReadCSV loads a comma separated file with a header row
func ReadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.IO(err, "failed to open dataset %s", path)
	}
	defer f.Close()

	frame, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return frame, nil
}

// Decode parses CSV content with a header row
func Decode(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.DataShape("dataset is empty")
		}
		return nil, apperr.Parse(err, "invalid header")
	}

	frame := NewFrame(header)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, apperr.Parse(err, "line %d", line)
		}

		row := make([]float64, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, apperr.Parse(err, "line %d column %s", line, header[i])
			}
			row[i] = v
		}
		frame.Data = append(frame.Data, row)
	}

	return frame, nil
}

// WriteCSV writes the frame with a header row, creating parent directories
func WriteCSV(path string, frame *Frame) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperr.IO(err, "failed to create directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return apperr.IO(err, "failed to create dataset %s", path)
	}

	if err := Encode(f, frame); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return apperr.IO(err, "failed to close dataset %s", path)
	}
	return nil
}

// Encode writes the frame as CSV; integral values are printed without decimals
func Encode(w io.Writer, frame *Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(frame.Columns); err != nil {
		return apperr.IO(err, "failed to write header")
	}

	record := make([]string, len(frame.Columns))
	for _, row := range frame.Data {
		for i, v := range row {
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return apperr.IO(err, "failed to write row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return apperr.IO(err, "failed to flush dataset")
	}
	return nil
}
