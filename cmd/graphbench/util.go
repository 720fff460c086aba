package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/loykin/graphbench/internal/collector"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printRows(rows []collector.Row) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OPERATION\tCALLS\tP50\tP95\tP99\tWORST")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", r.Operation, r.TotalCalls, r.P50, r.P95, r.P99, r.WorstDuration)
	}
	_ = w.Flush()
}
