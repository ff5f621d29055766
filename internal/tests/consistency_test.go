package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"paylink/internal/domain"
)

type ConsistencyTestSuite struct {
	suite.Suite
	h   *harness
	ctx context.Context
}

func (s *ConsistencyTestSuite) SetupTest() {
	s.h = newHarness(s.T())
	s.ctx = context.Background()
}

func (s *ConsistencyTestSuite) TestEmptyStoreIsHealthy() {
	report, err := s.h.consistency.Report(s.ctx)
	s.Require().NoError(err)

	s.True(report.Healthy())
	s.Equal(0, report.Counts.PaidLinks)
	s.Empty(report.UnbalancedLinks)
	s.NotNil(report.UnbalancedLinks)
}

func (s *ConsistencyTestSuite) TestConfirmedLinkHasEveryRecord() {
	s.h.openLink("link-1", "100.00", "USD")
	_, err := s.h.confirmation.ConfirmPayment(s.ctx, stripeRequest("link-1", "pi_1", "100.00"))
	s.Require().NoError(err)

	report, err := s.h.consistency.Report(s.ctx)
	s.Require().NoError(err)

	s.True(report.Healthy())
	s.Equal(1, report.Counts.PaidLinks)
	s.Equal(1, report.SyncJobs[domain.SyncJobStatusPending])
}

func (s *ConsistencyTestSuite) TestPaidLinkWithoutRecordsIsReported() {
	now := time.Now()
	s.h.db.AddLink(&domain.PaymentLink{
		ID:             "link-orphan",
		OrganizationID: "org-1",
		Amount:         dec("10.00"),
		Currency:       "USD",
		Status:         domain.PaymentLinkStatusPaid,
		CreatedAt:      now,
		UpdatedAt:      now,
	})

	report, err := s.h.consistency.Report(s.ctx)
	s.Require().NoError(err)

	s.False(report.Healthy())
	s.Equal(1, report.Counts.PaidWithoutConfirmedEvent)
	s.Equal(1, report.Counts.PaidWithoutLedgerEntries)
	s.Equal(1, report.Counts.PaidWithoutSyncJob)
}

func (s *ConsistencyTestSuite) TestUnbalancedPostingIsReported() {
	s.h.ledger.InsertRawEntry(unbalancedEntry("link-1"))

	report, err := s.h.consistency.Report(s.ctx)
	s.Require().NoError(err)

	s.False(report.Healthy())
	s.Equal([]string{"link-1"}, report.UnbalancedLinks)
}

func (s *ConsistencyTestSuite) TestReportWritesNothing() {
	s.h.openLink("link-1", "100.00", "USD")
	_, err := s.h.confirmation.ConfirmPayment(s.ctx, stripeRequest("link-1", "pi_1", "100.00"))
	s.Require().NoError(err)

	before := s.h.db.Writes()
	for i := 0; i < 3; i++ {
		_, err := s.h.consistency.Report(s.ctx)
		s.Require().NoError(err)
	}
	s.Equal(before, s.h.db.Writes())
}

func TestConsistencyTestSuite(t *testing.T) {
	suite.Run(t, new(ConsistencyTestSuite))
}
