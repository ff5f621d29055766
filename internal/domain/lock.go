package domain

import "time"

// PaymentLock is an ephemeral lease serializing confirmations for one link.
type PaymentLock struct {
	PaymentLinkID string
	Holder        string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
}
