package aggregate

import (
	"bufio"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/graphbench/internal/histogram"
)

// Sample is one exported value with its labels.
type Sample struct {
	Labels map[string]string
	Value  float64
}

// MetricsIndex maps a metric name to every sample exported under it.
type MetricsIndex struct {
	samples map[string][]Sample
}

// ParseMetrics reads Prometheus text exposition. Comments, blank lines and
// lines without a parsable value are skipped.
func ParseMetrics(text string) *MetricsIndex {
	idx := &MetricsIndex{samples: map[string][]Sample{}}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lhs, rest := splitSample(line)
		fields := strings.Fields(rest)
		if lhs == "" || len(fields) == 0 {
			continue
		}
		// An optional timestamp may follow the value.
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		name, labels := parseLHS(lhs)
		idx.samples[name] = append(idx.samples[name], Sample{Labels: labels, Value: v})
	}
	return idx
}

// splitSample separates name{labels} from the value part of a line.
func splitSample(line string) (lhs, rest string) {
	if open := strings.IndexByte(line, '{'); open >= 0 {
		if end := strings.LastIndexByte(line, '}'); end > open {
			return line[:end+1], line[end+1:]
		}
		return "", ""
	}
	sp := strings.IndexAny(line, " \t")
	if sp < 0 {
		return "", ""
	}
	return line[:sp], line[sp:]
}

func parseLHS(lhs string) (string, map[string]string) {
	open := strings.IndexByte(lhs, '{')
	if open < 0 {
		return lhs, map[string]string{}
	}
	name := lhs[:open]
	body := strings.TrimSuffix(lhs[open+1:], "}")
	return name, parseLabels(body)
}

// parseLabels splits a{k="v",...} bodies. Commas inside quoted values are
// kept.
func parseLabels(s string) map[string]string {
	out := map[string]string{}
	var parts []string
	var b strings.Builder
	quoted, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			parts = append(parts, b.String())
			b.Reset()
			continue
		}
		b.WriteRune(r)
	}
	parts = append(parts, b.String())

	for _, part := range parts {
		part = strings.TrimSpace(part)
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if uq, err := strconv.Unquote(v); err == nil {
			v = uq
		} else {
			v = strings.Trim(v, `"`)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out
}

// Samples returns every sample of name.
func (m *MetricsIndex) Samples(name string) []Sample { return m.samples[name] }

// Names returns the sorted metric names.
func (m *MetricsIndex) Names() []string {
	out := make([]string, 0, len(m.samples))
	for k := range m.samples {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Value returns the label-less sample of name, else the first one.
func (m *MetricsIndex) Value(name string) (float64, bool) {
	samples := m.samples[name]
	for _, s := range samples {
		if len(s.Labels) == 0 {
			return s.Value, true
		}
	}
	if len(samples) > 0 {
		return samples[0].Value, true
	}
	return 0, false
}

// ValueOr returns Value(name) or def when missing.
func (m *MetricsIndex) ValueOr(name string, def float64) float64 {
	if v, ok := m.Value(name); ok {
		return v
	}
	return def
}

// Histogram rebuilds base from its _count, _sum and _bucket samples. The
// +Inf bucket is excluded.
func (m *MetricsIndex) Histogram(base string) histogram.Data {
	d := histogram.Data{
		Count: m.ValueOr(base+"_count", 0),
		Sum:   m.ValueOr(base+"_sum", 0),
	}
	for _, s := range m.samples[base+"_bucket"] {
		le, ok := s.Labels["le"]
		if !ok || le == "+Inf" {
			continue
		}
		bound, err := strconv.ParseFloat(le, 64)
		if err != nil {
			continue
		}
		d.Buckets = append(d.Buckets, histogram.Bucket{Bound: bound, Cumulative: s.Value})
	}
	d.Sort()
	return d
}
