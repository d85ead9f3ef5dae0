// Package resource reads host resource state for admission decisions.
package resource

// UsedMemoryPercent returns system memory usage as a percentage, or -1
// when the platform offers no reading (the caller should admit).
func UsedMemoryPercent() float64 {
	return usedMemoryPercent()
}
