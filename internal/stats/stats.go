// Package stats holds process-wide atomic counters exposed by the debug
// and dashboard APIs.
package stats

import (
	"sync/atomic"
	"time"
)

type Stats struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	apiCalls           atomic.Int64
	startTime          time.Time
}

func New() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) IncomingMessage() {
	s.totalRequests.Add(1)
}

func (s *Stats) Success() {
	s.successfulRequests.Add(1)
}

func (s *Stats) Failure() {
	s.failedRequests.Add(1)
}

func (s *Stats) APICall() {
	s.apiCalls.Add(1)
}

type Snapshot struct {
	TotalRequests      int64         `json:"totalRequests"`
	SuccessfulRequests int64         `json:"successfulRequests"`
	FailedRequests     int64         `json:"failedRequests"`
	APICalls           int64         `json:"apiCalls"`
	Uptime             float64       `json:"uptimeSeconds"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:      s.totalRequests.Load(),
		SuccessfulRequests: s.successfulRequests.Load(),
		FailedRequests:     s.failedRequests.Load(),
		APICalls:           s.apiCalls.Load(),
		Uptime:             time.Since(s.startTime).Seconds(),
	}
}
