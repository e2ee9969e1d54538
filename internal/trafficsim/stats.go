package trafficsim

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

type statsCollector struct {
	pageViews  atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	attempts   atomic.Uint64
	sinkErrors atomic.Uint64

	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

// Observe accounts for one finished page view.
func (s *statsCollector) Observe(res Result) {
	s.pageViews.Add(1)
	s.attempts.Add(uint64(res.Attempts))
	if !res.OK() {
		s.failed.Add(1)
		return
	}
	s.succeeded.Add(1)

	n := uint64(max(res.Bytes, 0))
	s.totalRespBytes.Add(n)
	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (s *statsCollector) SinkError() { s.sinkErrors.Add(1) }

type statsSnapshot struct {
	PageViews  uint64
	Succeeded  uint64
	Failed     uint64
	Attempts   uint64
	SinkErrors uint64

	TotalRespBytes uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	ss := statsSnapshot{
		PageViews:      s.pageViews.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		Attempts:       s.attempts.Load(),
		SinkErrors:     s.sinkErrors.Load(),
		TotalRespBytes: s.totalRespBytes.Load(),
		MinRespBytes:   s.minRespBytes.Load(),
		MaxRespBytes:   s.maxRespBytes.Load(),
	}
	if ss.Succeeded == 0 {
		ss.MinRespBytes = 0
		return ss
	}
	ss.AvgRespBytes = ss.TotalRespBytes / ss.Succeeded
	return ss
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	if b < kb {
		return fmt.Sprintf("%db", b)
	}
	if b < mb {
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/kb)) + "kb"
	}
	if b < gb {
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/mb)) + "mb"
	}
	return trimFloat(fmt.Sprintf("%.1f", float64(b)/gb)) + "gb"
}

func trimFloat(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), ".0")
}
