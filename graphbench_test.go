package graphbench

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFacadeRunAndAggregate(t *testing.T) {
	qs := []PreparedQuery{
		{Name: "single_vertex_read", Class: "read", Text: "MATCH (n {id: 1}) RETURN n"},
		{Name: "single_vertex_write", Class: "write", Text: "CREATE (n {id: 2})"},
	}
	b, err := json.Marshal(qs)
	require.NoError(t, err)
	qfile := filepath.Join(t.TempDir(), "queries.json")
	require.NoError(t, os.WriteFile(qfile, b, 0o644))

	ds, err := ParseDataset("medium")
	require.NoError(t, err)
	results := t.TempDir()
	for _, v := range []Vendor{Falkor, Memgraph} {
		res, err := Run(context.Background(), Options{
			Vendor: v, Dataset: ds, QueriesFile: qfile,
			Parallel: 1, MPS: 500, SimulateMs: 1, ResultsDir: results,
		})
		require.NoError(t, err)
		if res.Successful != 2 {
			t.Fatalf("expected 2 successful calls for %s, got %d", v, res.Successful)
		}
	}

	files, err := Aggregate(results, results)
	require.NoError(t, err)
	want := []string{filepath.Join(results, "memgraph_vs_falkordb.json")}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("aggregate files mismatch (-want +got):\n%s", diff)
	}

	var s Summary
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &s))
}

func TestParseVendor(t *testing.T) {
	v, err := ParseVendor("neo4j")
	require.NoError(t, err)
	if v != Neo4j {
		t.Fatalf("got %s", v)
	}
	if _, err := ParseVendor("dgraph"); err == nil {
		t.Fatal("expected error")
	}
}
