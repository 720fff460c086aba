package aggregate

import (
	"fmt"
	"math"
	"runtime"
)

// FormatDuration renders milliseconds with a fixed precision per range:
// "N.NNs" from one second, "N.NNms" from 10ms and "N.NNNms" below that.
// Zero, negative and non-finite values render as "0ms".
func FormatDuration(ms float64) string {
	switch {
	case math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0:
		return "0ms"
	case ms >= 1000:
		return fmt.Sprintf("%.2fs", ms/1000)
	case ms >= 10:
		return fmt.Sprintf("%.2fms", ms)
	default:
		return fmt.Sprintf("%.3fms", ms)
	}
}

// FormatMemKiB renders KiB as "N.NMB" or, from 1024 MiB, "N.NNGB".
func FormatMemKiB(kib float64) string { return FormatMemMiB(kib / 1024) }

// FormatMemBytes renders bytes like FormatMemKiB.
func FormatMemBytes(b float64) string { return FormatMemMiB(b / (1024 * 1024)) }

// FormatMemMiB renders MiB like FormatMemKiB.
func FormatMemMiB(mib float64) string {
	if math.IsNaN(mib) || math.IsInf(mib, 0) || mib <= 0 {
		return "0MB"
	}
	if mib >= 1024 {
		return fmt.Sprintf("%.2fGB", mib/1024)
	}
	return fmt.Sprintf("%.1fMB", mib)
}

// Platform names the host architecture the way the dashboards do.
func Platform() string { return platformOf(runtime.GOARCH) }

func platformOf(arch string) string {
	switch arch {
	case "arm64":
		return "arm"
	case "amd64":
		return "intel"
	default:
		return arch
	}
}
