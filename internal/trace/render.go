package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"rt-trace-monitor/internal/models"
)

const (
	StartMarker = "====Log dump start===="
	EndMarker   = "====Log dump end===="
)

// FormatRecord renders a record as task_id,phase_code,timestamp_ms.
func FormatRecord(r models.EventRecord) string {
	return strconv.FormatUint(uint64(r.TaskID), 10) + "," +
		strconv.Itoa(int(r.Phase)) + "," +
		strconv.FormatInt(r.Timestamp, 10)
}

func writeRecord(w io.Writer, r models.EventRecord) error {
	_, err := io.WriteString(w, FormatRecord(r)+"\n")
	return err
}

// WriteDump renders records between the start and end markers.
func WriteDump(w io.Writer, records []models.EventRecord) error {
	if _, err := fmt.Fprintln(w, StartMarker); err != nil {
		return err
	}
	for _, r := range records {
		if err := writeRecord(w, r); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, EndMarker)
	return err
}

// ParseRecord parses one task_id,phase_code,timestamp_ms line.
func ParseRecord(line string) (models.EventRecord, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return models.EventRecord{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return models.EventRecord{}, fmt.Errorf("task id: %w", err)
	}
	var phase models.Phase
	switch strings.TrimSpace(parts[1]) {
	case "1":
		phase = models.JobStart
	case "0":
		phase = models.JobCompletion
	default:
		return models.EventRecord{}, fmt.Errorf("unknown phase code %q", parts[1])
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return models.EventRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	return models.EventRecord{TaskID: models.TaskID(id), Phase: phase, Timestamp: ts}, nil
}

// ParseDump reads records back from sink output. Markers, blank lines and any
// other console chatter between dumps are skipped; lines that look like records
// but do not parse are reported with their line number.
func ParseDump(r io.Reader) ([]models.EventRecord, error) {
	var out []models.EventRecord
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == StartMarker || line == EndMarker || !strings.Contains(line, ",") {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	return out, nil
}
