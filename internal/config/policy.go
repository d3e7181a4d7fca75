package config

import (
	"errors"
	"time"

	"marketescrow/internal/model"
)

// Unlimited marks a capacity tier without a concurrent slice limit.
const Unlimited = -1

// Policy is the immutable business configuration handed to every engine at
// construction. Percentages are basis points (1500 = 15%).
type Policy struct {
	PlatformFeeBps   int64 `env:"PLATFORM_FEE_BPS" envDefault:"1500"`
	CommunityPoolBps int64 `env:"COMMUNITY_POOL_BPS" envDefault:"300"`
	ProcessingFeeBps int64 `env:"PROCESSING_FEE_BPS" envDefault:"850"`

	DisputeInitiationFee int `env:"DISPUTE_INITIATION_FEE" envDefault:"10"`
	DisputeLossPenalty   int `env:"DISPUTE_LOSS_PENALTY" envDefault:"50"`
	SliceReleasedAward   int `env:"SLICE_RELEASED_AWARD" envDefault:"5"`
	RatingAwardFactor    int `env:"RATING_AWARD_FACTOR" envDefault:"10"`

	ReformMultiplierBps    int64 `env:"REFORM_MULTIPLIER_BPS" envDefault:"15000"`
	ReformPenaltyThreshold int   `env:"REFORM_PENALTY_THRESHOLD" envDefault:"3"`
	ReformRecoveryAwards   int   `env:"REFORM_RECOVERY_AWARDS" envDefault:"5"`

	DecayBps            int64         `env:"DECAY_BPS" envDefault:"500"`
	DecayInactivity     time.Duration `env:"DECAY_INACTIVITY" envDefault:"336h"`
	DecayProtectedFloor int           `env:"DECAY_PROTECTED_FLOOR" envDefault:"100"`

	SilverMinPoints  int `env:"SILVER_MIN_POINTS" envDefault:"500"`
	GoldMinPoints    int `env:"GOLD_MIN_POINTS" envDefault:"2000"`
	DiamondMinPoints int `env:"DIAMOND_MIN_POINTS" envDefault:"5000"`

	BronzeCapacity  int `env:"BRONZE_CAPACITY" envDefault:"2"`
	SilverCapacity  int `env:"SILVER_CAPACITY" envDefault:"5"`
	GoldCapacity    int `env:"GOLD_CAPACITY" envDefault:"-1"`
	DiamondCapacity int `env:"DIAMOND_CAPACITY" envDefault:"-1"`

	AutoReleaseAfter   time.Duration `env:"AUTO_RELEASE_AFTER" envDefault:"72h"`
	AutoReleaseBatch   int           `env:"AUTO_RELEASE_BATCH" envDefault:"200"`
	AutoReleaseWorkers int           `env:"AUTO_RELEASE_WORKERS" envDefault:"4"`

	MaterialAdvanceMaxBps int64 `env:"MATERIAL_ADVANCE_MAX_BPS" envDefault:"5000"`

	LedgerTimeout  time.Duration `env:"LEDGER_TIMEOUT" envDefault:"10s"`
	JuryTimeout    time.Duration `env:"JURY_TIMEOUT" envDefault:"30s"`
	JuryPrecedents int           `env:"JURY_PRECEDENTS" envDefault:"5"`

	PayoutMinAura       int `env:"PAYOUT_MIN_AURA" envDefault:"100"`
	PayoutMaxRecipients int `env:"PAYOUT_MAX_RECIPIENTS" envDefault:"100"`
	PayoutHourUTC       int `env:"PAYOUT_HOUR_UTC" envDefault:"0"`

	SchedulerTick time.Duration `env:"SCHEDULER_TICK" envDefault:"1m"`
}

// DefaultPolicy returns the production defaults, identical to the envDefault tags.
func DefaultPolicy() Policy {
	return Policy{
		PlatformFeeBps:         1500,
		CommunityPoolBps:       300,
		ProcessingFeeBps:       850,
		DisputeInitiationFee:   10,
		DisputeLossPenalty:     50,
		SliceReleasedAward:     5,
		RatingAwardFactor:      10,
		ReformMultiplierBps:    15000,
		ReformPenaltyThreshold: 3,
		ReformRecoveryAwards:   5,
		DecayBps:               500,
		DecayInactivity:        14 * 24 * time.Hour,
		DecayProtectedFloor:    100,
		SilverMinPoints:        500,
		GoldMinPoints:          2000,
		DiamondMinPoints:       5000,
		BronzeCapacity:         2,
		SilverCapacity:         5,
		GoldCapacity:           Unlimited,
		DiamondCapacity:        Unlimited,
		AutoReleaseAfter:       72 * time.Hour,
		AutoReleaseBatch:       200,
		AutoReleaseWorkers:     4,
		MaterialAdvanceMaxBps:  5000,
		LedgerTimeout:          10 * time.Second,
		JuryTimeout:            30 * time.Second,
		JuryPrecedents:         5,
		PayoutMinAura:          100,
		PayoutMaxRecipients:    100,
		PayoutHourUTC:          0,
		SchedulerTick:          time.Minute,
	}
}

// Validate rejects policies that would break fee or tier arithmetic.
func (p Policy) Validate() error {
	switch {
	case p.PlatformFeeBps < 0 || p.CommunityPoolBps < 0 || p.ProcessingFeeBps < 0:
		return errors.New("fee basis points must be non-negative")
	case p.CommunityPoolBps > p.PlatformFeeBps:
		return errors.New("community pool cannot exceed platform fee")
	case p.ProcessingFeeBps >= 10000:
		return errors.New("processing fee must be below 100%")
	case !(p.SilverMinPoints < p.GoldMinPoints && p.GoldMinPoints < p.DiamondMinPoints):
		return errors.New("aura level thresholds must be increasing")
	case p.ReformMultiplierBps < 10000:
		return errors.New("reform multiplier must be at least 1x")
	case p.LedgerTimeout <= 0 || p.JuryTimeout <= 0:
		return errors.New("external call timeouts must be positive")
	case p.PayoutHourUTC < 0 || p.PayoutHourUTC > 23:
		return errors.New("payout hour must be 0-23")
	}
	return nil
}

// LevelFor derives the aura tier for a point balance.
func (p Policy) LevelFor(points int) model.AuraLevel {
	switch {
	case points >= p.DiamondMinPoints:
		return model.AuraDiamond
	case points >= p.GoldMinPoints:
		return model.AuraGold
	case points >= p.SilverMinPoints:
		return model.AuraSilver
	default:
		return model.AuraBronze
	}
}

// CapacityFor returns the concurrent active slice limit for a tier, or Unlimited.
func (p Policy) CapacityFor(level model.AuraLevel) int {
	switch level {
	case model.AuraDiamond:
		return p.DiamondCapacity
	case model.AuraGold:
		return p.GoldCapacity
	case model.AuraSilver:
		return p.SilverCapacity
	default:
		return p.BronzeCapacity
	}
}
