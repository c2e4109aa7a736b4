package models

// RequestLog is one proxied API request, persisted for the monitor view.
type RequestLog struct {
	ID          string `gorm:"primaryKey" json:"id"` // UUID
	Timestamp   int64  `gorm:"index" json:"timestamp"` // unix millis
	Method      string `json:"method"`
	Path        string `json:"path"`
	Status      int    `json:"status"`
	DurationMs  int64  `json:"duration_ms"`
	Model       string `json:"model"`
	AccountName string `json:"account_name"`
	Stream      bool   `json:"stream"`
	Error       string `json:"error,omitempty"`
}

// RequestStats holds aggregated counters over the request log.
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
}
