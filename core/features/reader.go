package features

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// ReadReadings parses a whitespace separated sensor log without header.
// Every non-blank line must carry unit, cycle, 3 settings and 21 sensors.
func ReadReadings(path string) ([]models.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.IO(err, "failed to open sensor log %s", path)
	}
	defer f.Close()

	var readings []models.Reading
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != models.NumRawColumns {
			return nil, apperr.Parse(nil, "%s:%d: expected %d columns, got %d",
				path, lineNo, models.NumRawColumns, len(fields))
		}

		reading, err := parseReading(fields)
		if err != nil {
			return nil, apperr.Parse(err, "%s:%d: invalid value", path, lineNo)
		}
		readings = append(readings, reading)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.IO(err, "failed to read sensor log %s", path)
	}

	return readings, nil
}

func parseReading(fields []string) (models.Reading, error) {
	var r models.Reading

	unit, err := parseInt(fields[0])
	if err != nil {
		return r, err
	}
	cycle, err := parseInt(fields[1])
	if err != nil {
		return r, err
	}
	r.Unit = unit
	r.Cycle = cycle

	for i := 0; i < models.NumSettings; i++ {
		v, err := strconv.ParseFloat(fields[2+i], 64)
		if err != nil {
			return r, err
		}
		r.Settings[i] = v
	}
	for i := 0; i < models.NumSensors; i++ {
		v, err := strconv.ParseFloat(fields[2+models.NumSettings+i], 64)
		if err != nil {
			return r, err
		}
		r.Sensors[i] = v
	}

	return r, nil
}

// parseInt accepts "12" as well as "12.0", which some exports write for ids
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, strconv.ErrSyntax
	}
	return int(f), nil
}

// ReadRUL parses a remaining-useful-life file: one integer per line, where
// line i holds the remaining cycles of unit i after its last observed cycle.
func ReadRUL(path string) (map[int]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.IO(err, "failed to open RUL file %s", path)
	}
	defer f.Close()

	remaining := make(map[int]int)
	scanner := bufio.NewScanner(f)
	unit := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		unit++
		n, err := parseInt(line)
		if err != nil {
			return nil, apperr.Parse(err, "%s:%d: invalid remaining cycles", path, lineNo)
		}
		remaining[unit] = n
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.IO(err, "failed to read RUL file %s", path)
	}

	return remaining, nil
}
