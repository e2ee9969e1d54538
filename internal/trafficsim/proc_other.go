//go:build !linux

package trafficsim

func processRSSBytes() (uint64, bool) { return 0, false }
