package bench

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// QueryClass is the read/write class of an operation.
type QueryClass string

const (
	Read  QueryClass = "read"
	Write QueryClass = "write"
)

// PreparedQuery is one unit of work produced by the query generator.
type PreparedQuery struct {
	Name  string     `json:"q_name"`
	Class QueryClass `json:"q_type"`
	Text  string     `json:"cypher"`
	// Context carries free-form details (parameters, seed) for worst-call reports.
	Context string `json:"context,omitempty"`
}

// LoadQueries reads a queries file. Both a JSON array and JSON-lines are
// accepted. Lines that fail to decode are reported as ErrParse.
func LoadQueries(path string) ([]PreparedQuery, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var out []PreparedQuery
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
		return out, nil
	}
	var out []PreparedQuery
	sc := bufio.NewScanner(strings.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var q PreparedQuery
		if err := json.Unmarshal([]byte(text), &q); err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrParse, path, line, err)
		}
		out = append(out, q)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrIO, path, err)
	}
	return out, nil
}

// NormalizeQuery collapses every run of whitespace into a single space.
func NormalizeQuery(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// QueryNames maps normalized query text to its logical name.
func QueryNames(qs []PreparedQuery) map[string]string {
	m := make(map[string]string, len(qs))
	for _, q := range qs {
		m[NormalizeQuery(q.Text)] = q.Name
	}
	return m
}
