//go:build linux

package resource

import (
	"os"
	"strconv"
	"strings"
)

// usedMemoryPercent reads /proc/meminfo on Linux.
func usedMemoryPercent() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return -1
	}
	var total, available int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if total <= 0 || available < 0 {
		return -1
	}
	return float64(total-available) / float64(total) * 100
}
