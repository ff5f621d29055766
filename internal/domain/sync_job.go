package domain

import "time"

// SyncJobStatus represents the state of a downstream accounting sync job.
type SyncJobStatus string

const (
	SyncJobStatusPending  SyncJobStatus = "PENDING"
	SyncJobStatusRetrying SyncJobStatus = "RETRYING"
	SyncJobStatusSuccess  SyncJobStatus = "SUCCESS"
	SyncJobStatusFailed   SyncJobStatus = "FAILED"
)

// SyncJob is a durable record pushing one confirmed payment to the
// accounting system.
type SyncJob struct {
	ID             string
	PaymentLinkID  string
	OrganizationID string
	Status         SyncJobStatus
	RetryCount     int
	NextRetryAt    time.Time
	LastError      string
	CorrelationID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
