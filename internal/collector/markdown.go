package collector

import (
	"fmt"
	"strings"
	"time"
)

// Markdown renders the report as a markdown document.
func (c *MetricsCollector) Markdown() string {
	var b strings.Builder
	info := c.info
	fmt.Fprintf(&b, "# Benchmark report\n\n")
	fmt.Fprintf(&b, "vendor: %s\n\nnodes: %d\n\nrelations: %d\n\nqueries: %d\n\nmps: %d\n\n",
		info.Vendor, info.Nodes, info.Relationships, info.Queries, info.MPS)

	rows := c.Report()
	b.WriteString("| operation | calls | p50 | p95 | p99 | worst |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s |\n",
			r.Operation, r.TotalCalls, ms(r.P50), ms(r.P95), ms(r.P99), ms(r.WorstDuration))
	}

	b.WriteString("\n## Worst calls\n")
	for _, r := range rows {
		if r.WorstCallText == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### %s (%s)\n\n```\n%s\n```\n", r.Operation, ms(r.WorstDuration), r.WorstCallText)
		if r.WorstCallContext != "" {
			fmt.Fprintf(&b, "\ncontext: `%s`\n", r.WorstCallContext)
		}
	}
	return b.String()
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}
