package pricing

import (
	"context"
	"errors"
	"time"
)

// Service converts call durations to billable minutes. It performs no provider calls.
type Service struct {
	repo  RuleRepository
	clock func() time.Time
}

func NewService(repo RuleRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type UsageRequest struct {
	AccountID       string
	Direction       CallDirection
	DurationSeconds int
	// At selects the rule in effect. If zero, service clock is used.
	At time.Time
}

type Usage struct {
	AccountID       string
	BillableSeconds int
	BillableMinutes int64
}

var ErrInvalidPricingReq = errors.New("pricing: invalid request")

// RuleRepository abstracts billing-rule persistence.
type RuleRepository interface {
	FindBillingRule(ctx context.Context, accountID string, direction CallDirection, at time.Time) (BillingRule, bool, error)
}

// BillableUsage rounds a call's duration with the account's rule, or DefaultRule.
// A zero-length call bills nothing; minimums apply only to connected calls.
func (s *Service) BillableUsage(ctx context.Context, req UsageRequest) (Usage, error) {
	if req.AccountID == "" || req.DurationSeconds < 0 {
		return Usage{}, ErrInvalidPricingReq
	}
	if req.Direction == "" {
		req.Direction = CallDirectionOutbound
	}
	out := Usage{AccountID: req.AccountID}
	if req.DurationSeconds == 0 {
		return out, nil
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}
	rule := DefaultRule
	if s.repo != nil {
		found, ok, err := s.repo.FindBillingRule(ctx, req.AccountID, req.Direction, at)
		if err != nil {
			return Usage{}, err
		}
		if ok {
			rule = found
		}
	}

	out.BillableSeconds = billableSeconds(req.DurationSeconds, rule.MinimumBillableSeconds, rule.BillingIncrementSeconds)
	out.BillableMinutes = int64(billableMinutesFromSeconds(out.BillableSeconds))
	return out, nil
}

// BillableMinutes is BillableUsage for outbound calls reduced to the minute count.
func (s *Service) BillableMinutes(ctx context.Context, accountID string, durationSeconds int, at time.Time) (int64, error) {
	u, err := s.BillableUsage(ctx, UsageRequest{AccountID: accountID, Direction: CallDirectionOutbound, DurationSeconds: durationSeconds, At: at})
	return u.BillableMinutes, err
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
