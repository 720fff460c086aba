// Package env composes the environment handed to a spawned backend.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers variables over an optional copy of the OS environment.
type Env struct {
	Var Var // overrides (K->V)
	env Var // base, from the OS when requested
}

// New returns an Env; with useOS the current process environment is the base.
func New(useOS bool) *Env {
	e := &Env{Var: make(Var), env: make(Var)}
	if useOS {
		e.env = parse(os.Environ())
	}
	return e
}

// Set sets a variable K=V. Later calls win.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.Var[k] = v
}

// SetPairs applies "K=V" entries in order. Malformed entries are skipped.
func (e *Env) SetPairs(kvs []string) {
	for k, v := range parse(kvs) {
		e.Set(k, v)
	}
}

// Environ returns the sorted "K=V" list with ${VAR} references expanded
// against the composed map (one level, no recursion).
func (e *Env) Environ() []string {
	m := make(Var, len(e.env)+len(e.Var))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
