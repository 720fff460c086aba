package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironOrderAndExpansion(t *testing.T) {
	e := New(false)
	e.SetPairs([]string{"DATA=/srv/data", "RDB=${DATA}/dump.rdb", "=skip", "broken"})
	e.Set("DATA", "/var/lib/falkor")
	assert.Equal(t, []string{"DATA=/var/lib/falkor", "RDB=/var/lib/falkor/dump.rdb"}, e.Environ())
}

func TestEnvironFromOS(t *testing.T) {
	t.Setenv("GRAPHBENCH_ENV_TEST", "os")
	e := New(true)
	e.Set("GRAPHBENCH_ENV_TEST", "override")
	found := false
	for _, kv := range e.Environ() {
		if strings.HasPrefix(kv, "GRAPHBENCH_ENV_TEST=") {
			found = true
			assert.Equal(t, "GRAPHBENCH_ENV_TEST=override", kv)
		}
	}
	assert.True(t, found)
}

// FuzzEnviron checks that composition never emits empty keys and that
// inputs without '$' never leave placeholders behind.
func FuzzEnviron(f *testing.F) {
	f.Add("A=1\nB=${A}-x")
	f.Add("X=$Y\nY=${X}")
	f.Fuzz(func(t *testing.T, in string) {
		e := New(false)
		e.SetPairs(strings.Split(in, "\n"))
		for _, kv := range e.Environ() {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if !strings.Contains(in, "$") && strings.Contains(kv, "${") {
				t.Fatalf("unexpected placeholder: %q", kv)
			}
		}
	})
}
