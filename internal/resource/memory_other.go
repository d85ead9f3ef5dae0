//go:build !linux

package resource

// usedMemoryPercent has no portable source outside Linux. Unknown.
func usedMemoryPercent() float64 {
	return -1
}
