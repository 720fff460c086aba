package bench

import (
	"fmt"
	"strings"
)

// Vendor identifies a graph database backend.
type Vendor string

const (
	Falkor   Vendor = "falkordb"
	Neo4j    Vendor = "neo4j"
	Memgraph Vendor = "memgraph"
)

// Vendors lists every supported vendor, baseline first.
var Vendors = []Vendor{Falkor, Neo4j, Memgraph}

// ParseVendor accepts the canonical id as well as the short "falkor" alias.
func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "falkor", "falkordb":
		return Falkor, nil
	case "neo4j":
		return Neo4j, nil
	case "memgraph":
		return Memgraph, nil
	default:
		return "", fmt.Errorf("%w: unknown vendor %q", ErrOther, s)
	}
}

func (v Vendor) String() string { return string(v) }

// MetricPrefix is the prefix of per-vendor latency and deadline metrics.
func (v Vendor) MetricPrefix() string { return string(v) }

// ProcessPrefix is the prefix of per-vendor process cpu/memory gauges.
// Falkor historically exports these as falkor_*.
func (v Vendor) ProcessPrefix() string {
	if v == Falkor {
		return "falkor"
	}
	return string(v)
}
