package domain

// ConsistencyCounts summarizes PAID links missing downstream records.
type ConsistencyCounts struct {
	PaidLinks                 int
	PaidWithoutConfirmedEvent int
	PaidWithoutLedgerEntries  int
	PaidWithoutSyncJob        int
}
