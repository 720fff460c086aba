package bench

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Size is the dataset size of the users graph.
type Size string

const (
	Small  Size = "small"
	Medium Size = "medium"
	Large  Size = "large"
)

// Dataset describes the graph a run is executed against.
type Dataset struct {
	Name     string
	Size     Size
	Vertices uint64
	Edges    uint64
}

// ParseSize returns the dataset of the given size.
func ParseSize(s string) (Dataset, error) {
	switch Size(strings.ToLower(strings.TrimSpace(s))) {
	case Small:
		return Dataset{Name: "users", Size: Small, Vertices: 10000, Edges: 121716}, nil
	case Medium:
		return Dataset{Name: "users", Size: Medium, Vertices: 100000, Edges: 1768515}, nil
	case Large:
		return Dataset{Name: "users", Size: Large, Vertices: 1632803, Edges: 30622564}, nil
	default:
		return Dataset{}, fmt.Errorf("%w: unknown dataset size %q", ErrOther, s)
	}
}

// BackupPath returns <root>/<vendor>/<name>/<size>.
func (d Dataset) BackupPath(root string, v Vendor) string {
	return filepath.Join(root, string(v), d.Name, string(d.Size))
}
