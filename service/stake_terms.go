package service

import (
	"math"
	"time"
)

const (
	DefaultLockPeriodDays = 90

	baseAPR         = 12.0
	maxAPR          = 27.23
	baseVotingPower = 10
)

// StakeTerms are derived from the lock period when a stake is created.
type StakeTerms struct {
	APR         float64   `json:"apr"`
	LockEndDate time.Time `json:"lockEndDate"`
	VotingPower int       `json:"votingPower"`
}

// ComputeStakeTerms returns the terms for locking for lockDays from now.
// APR grows 12% per 30 days, capped at 27.23%.
func ComputeStakeTerms(lockDays int, now time.Time) StakeTerms {
	if lockDays <= 0 {
		lockDays = DefaultLockPeriodDays
	}
	months := float64(lockDays) / 30
	apr := math.Min(baseAPR*months, maxAPR)
	return StakeTerms{
		APR:         apr,
		LockEndDate: now.AddDate(0, 0, lockDays),
		VotingPower: int(math.Floor(baseVotingPower * months)),
	}
}
