package models

import "time"

// SystemMetrics is a point-in-time aggregate exposed on the status endpoint.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	AutoAssignRuns           uint64    `json:"auto_assign_runs"`
	AssignedCells            uint64    `json:"assigned_cells"`
	CarryOverRecords         uint64    `json:"carry_over_records"`
	ChainEscalations         uint64    `json:"chain_escalations"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
