package service

import (
	"context"
	"time"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// unbalancedSampleLimit caps the link IDs listed in a report.
const unbalancedSampleLimit = 100

// ConsistencyReport summarizes records missing after PAID transitions.
type ConsistencyReport struct {
	Counts          domain.ConsistencyCounts     `json:"counts"`
	UnbalancedLinks []string                     `json:"unbalanced_links"`
	SyncJobs        map[domain.SyncJobStatus]int `json:"sync_jobs"`
	GeneratedAt     time.Time                    `json:"generated_at"`
}

// Healthy reports whether every PAID link has its event, postings and job,
// and no posting is unbalanced.
func (r *ConsistencyReport) Healthy() bool {
	return r.Counts.PaidWithoutConfirmedEvent == 0 &&
		r.Counts.PaidWithoutLedgerEntries == 0 &&
		r.Counts.PaidWithoutSyncJob == 0 &&
		len(r.UnbalancedLinks) == 0
}

// ConsistencyService builds read-only consistency reports.
type ConsistencyService struct {
	repo    repository.ConsistencyRepository
	ledger  *LedgerService
	jobRepo repository.SyncJobRepository
}

// NewConsistencyService creates a new ConsistencyService.
func NewConsistencyService(repo repository.ConsistencyRepository, ledger *LedgerService, jobRepo repository.SyncJobRepository) *ConsistencyService {
	return &ConsistencyService{repo: repo, ledger: ledger, jobRepo: jobRepo}
}

// Report collects the current counts. It performs no writes.
func (s *ConsistencyService) Report(ctx context.Context) (*ConsistencyReport, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, err
	}

	unbalanced, err := s.ledger.ListUnbalanced(ctx, unbalancedSampleLimit)
	if err != nil {
		return nil, err
	}

	jobs, err := s.jobRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	if unbalanced == nil {
		unbalanced = []string{}
	}

	return &ConsistencyReport{
		Counts:          *counts,
		UnbalancedLinks: unbalanced,
		SyncJobs:        jobs,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}
