// Package backend starts, probes and drives the graph database under test.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loykin/graphbench/internal/bench"
)

// ErrUnsupported is returned by operations a backend does not implement.
var ErrUnsupported = errors.New("operation not supported by backend")

// Vendor is the capability set the runner needs from a backend.
type Vendor interface {
	Vendor() bench.Vendor
	// Start brings the backend up and returns once it answers queries.
	Start(ctx context.Context) error
	// Stop shuts the backend down. It is idempotent.
	Stop() error
	// RestoreDB installs the dataset snapshot before Start.
	RestoreDB(ds bench.Dataset) error
	// Client returns the query client; nil before Start.
	Client() *RedisClient
	GraphSize(ctx context.Context) (nodes, relationships int64, err error)
	// PID is the pid of the supervised process, 0 when not supervised.
	PID() int
}

var (
	_ Vendor = (*Falkor)(nil)
	_ Vendor = (*External)(nil)
)

// copyFile copies src to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", bench.ErrIO, src, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", bench.ErrIO, tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: copy %s: %v", bench.ErrIO, src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	return nil
}
