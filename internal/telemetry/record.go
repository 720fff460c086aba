package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loykin/graphbench/internal/bench"
)

// Stream field names written by the server.
const (
	FieldQuery  = "Query"
	FieldTotal  = "Total duration"
	FieldWait   = "Wait duration"
	FieldExec   = "Execution duration"
	FieldReport = "Report duration"
	FieldWrite  = "Write"
)

// Record is one telemetry entry. Durations are in microseconds.
type Record struct {
	Query  string
	Total  float64
	Wait   float64
	Exec   float64
	Report float64
	Write  bool
}

// ParseRecord decodes stream values. Durations arrive in seconds.
func ParseRecord(values map[string]interface{}) (Record, error) {
	var r Record
	q, ok := values[FieldQuery]
	if !ok {
		return r, fmt.Errorf("%w: telemetry entry without %q", bench.ErrParse, FieldQuery)
	}
	r.Query = fmt.Sprint(q)

	var err error
	if r.Total, err = micros(values, FieldTotal); err != nil {
		return r, err
	}
	if r.Wait, err = micros(values, FieldWait); err != nil {
		return r, err
	}
	if r.Exec, err = micros(values, FieldExec); err != nil {
		return r, err
	}
	if r.Report, err = micros(values, FieldReport); err != nil {
		return r, err
	}
	if w, ok := values[FieldWrite]; ok {
		s := strings.TrimSpace(fmt.Sprint(w))
		r.Write = s == "1" || strings.EqualFold(s, "true")
	}
	return r, nil
}

func micros(values map[string]interface{}, key string) (float64, error) {
	v, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("%w: telemetry entry without %q", bench.ErrParse, key)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", bench.ErrParse, key, err)
	}
	return secs * 1e6, nil
}
