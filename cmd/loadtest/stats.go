package main

import (
	"sort"
	"sync"
	"time"
)

type OperationType int

const (
	WriteOperation OperationType = iota
	ReadOperation
	DeliveryOperation
)

func (o OperationType) String() string {
	switch o {
	case WriteOperation:
		return "write"
	case ReadOperation:
		return "read"
	case DeliveryOperation:
		return "delivery"
	}
	return "unknown"
}

type Stats struct {
	sync.Mutex
	totalRequests   int64
	successRequests int64
	failedRequests  int64
	totalLatency    time.Duration
	maxLatency      time.Duration
	minLatency      time.Duration
	latencies       map[OperationType][]time.Duration
}

func NewStats() *Stats {
	return &Stats{latencies: make(map[OperationType][]time.Duration)}
}

func (s *Stats) recordSuccess(latency time.Duration, opType OperationType) {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.successRequests++
	s.totalLatency += latency
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	s.latencies[opType] = append(s.latencies[opType], latency)
}

func (s *Stats) recordError() {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.failedRequests++
}

// Summary is a point-in-time view of the collected stats.
type Summary struct {
	TotalRequests     int64
	SuccessRequests   int64
	FailedRequests    int64
	AverageLatency    time.Duration
	MinLatency        time.Duration
	MaxLatency        time.Duration
	P99               map[OperationType]time.Duration
	Counts            map[OperationType]int
	RequestsPerSecond float64
}

func (s *Stats) Summarize(duration time.Duration) Summary {
	s.Lock()
	defer s.Unlock()

	sum := Summary{
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		FailedRequests:  s.failedRequests,
		MinLatency:      s.minLatency,
		MaxLatency:      s.maxLatency,
		P99:             make(map[OperationType]time.Duration),
		Counts:          make(map[OperationType]int),
	}
	if s.successRequests > 0 {
		sum.AverageLatency = s.totalLatency / time.Duration(s.successRequests)
	}
	if duration > 0 {
		sum.RequestsPerSecond = float64(s.totalRequests) / duration.Seconds()
	}
	for op, latencies := range s.latencies {
		sum.P99[op] = p99(latencies)
		sum.Counts[op] = len(latencies)
	}
	return sum
}

func p99(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
