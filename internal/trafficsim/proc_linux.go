//go:build linux

package trafficsim

import (
	"os"
	"strconv"
	"strings"
)

// processRSSBytes reads the resident set size from /proc/self/statm, whose
// second field is the RSS in pages. ok is false when /proc is unavailable.
func processRSSBytes() (uint64, bool) {
	b, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, false
	}
	_, rest, found := strings.Cut(strings.TrimSpace(string(b)), " ")
	if !found {
		return 0, false
	}
	rssField, _, _ := strings.Cut(rest, " ")
	pages, err := strconv.ParseUint(rssField, 10, 64)
	if err != nil {
		return 0, false
	}
	return pages * uint64(os.Getpagesize()), true
}
