package models

import "time"

// SystemMetrics is a lightweight snapshot of service counters served next to /metrics.
type SystemMetrics struct {
	PlansTotal               uint64             `json:"plansTotal"`
	PlansByStatus            map[PlanStatus]int `json:"plansByStatus"`
	SolveTimeouts            uint64             `json:"solveTimeouts"`
	AverageSolveDurationMs   float64            `json:"averageSolveDurationMs"`
	CacheHitRatio            float64            `json:"cacheHitRatio"`
	CacheHits                uint64             `json:"cacheHits"`
	CacheMisses              uint64             `json:"cacheMisses"`
	RequestsTotal            uint64             `json:"requestsTotal"`
	AverageRequestDurationMs float64            `json:"averageRequestDurationMs"`
	QueueDepth               int                `json:"queueDepth"`
	Goroutines               int                `json:"goroutines"`
	GeneratedAt              time.Time          `json:"generatedAt"`
}
