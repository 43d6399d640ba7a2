package vault

import (
	"fmt"
	"time"
)

// GoldenHourOverride toggles the golden-hour window independent of the
// clock: AUTO follows the configured window, FORCE_ON and FORCE_OFF pin it.
type GoldenHourOverride string

const (
	GoldenHourAuto     GoldenHourOverride = "AUTO"
	GoldenHourForceOn  GoldenHourOverride = "FORCE_ON"
	GoldenHourForceOff GoldenHourOverride = "FORCE_OFF"
)

// ClockTime is a wall-clock instant within a day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (clockTime ClockTime) minuteOfDay() int {
	return clockTime.Hour*60 + clockTime.Minute
}

// MultiplierConfig holds the streak-bonus and golden-hour windows.
type MultiplierConfig struct {
	StreakThresholdDays  int
	StreakMultiplier     float64
	StreakWindow         time.Duration
	GoldenHourMultiplier float64
	GoldenHourStart      ClockTime
	GoldenHourEnd        ClockTime
	GoldenHourOverride   GoldenHourOverride
}

// OutcomeRewards maps each outcome of a game to its flat base credit.
type OutcomeRewards struct {
	Win  int64
	Draw int64
	Lose int64
}

func (rewards OutcomeRewards) amountFor(outcome Outcome) int64 {
	switch outcome {
	case OutcomeWin:
		return rewards.Win
	case OutcomeDraw:
		return rewards.Draw
	case OutcomeLose:
		return rewards.Lose
	}
	return 0
}

// RewardConfig is the per-game reward table plus the multiplier exclusion
// list. Excluded token types and non-normal play modes accrue at base only.
type RewardConfig struct {
	Table              map[GameType]OutcomeRewards
	ExcludedTokenTypes []string
	// PayoutBonusRate converts a share of the raw payout into a
	// loss-mitigation credit. The share is never multiplied.
	PayoutBonusRate float64
}

func (rewardConfig RewardConfig) tokenExcluded(tokenType string) bool {
	for _, excluded := range rewardConfig.ExcludedTokenTypes {
		if excluded == tokenType {
			return true
		}
	}
	return false
}

// ProgramConfig describes one vault program's expiry policy.
type ProgramConfig struct {
	DurationHours       int
	ExpirePolicy        ExpirePolicy
	AvailableGraceHours int
}

// LedgerConfig is the full typed configuration threaded into the Service at
// construction. Zero-value fields are filled by MergeWithDefaults.
type LedgerConfig struct {
	MinWithdrawalAmount int64
	DepositLookback     time.Duration
	Multiplier          MultiplierConfig
	Rewards             RewardConfig
	Programs            map[string]ProgramConfig
	DefaultProgramKey   string
}

// DefaultLedgerConfig returns the stock configuration.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		MinWithdrawalAmount: 1000,
		DepositLookback:     30 * 24 * time.Hour,
		Multiplier: MultiplierConfig{
			StreakThresholdDays:  3,
			StreakMultiplier:     1.2,
			StreakWindow:         time.Hour,
			GoldenHourMultiplier: 2.0,
			GoldenHourStart:      ClockTime{Hour: 21, Minute: 30},
			GoldenHourEnd:        ClockTime{Hour: 22, Minute: 30},
			GoldenHourOverride:   GoldenHourAuto,
		},
		Rewards: RewardConfig{
			Table: map[GameType]OutcomeRewards{
				"DICE":     {Win: 200, Draw: 100, Lose: 50},
				"ROULETTE": {Win: 200, Draw: 100, Lose: 50},
				"LADDER":   {Win: 150, Draw: 0, Lose: 30},
			},
			ExcludedTokenTypes: []string{"EVENT_TOKEN", "TRIAL_TOKEN"},
		},
		Programs: map[string]ProgramConfig{
			"default": {
				DurationHours: 24,
				ExpirePolicy:  ExpirePolicyFixed,
			},
		},
		DefaultProgramKey: "default",
	}
}

// MergeWithDefaults fills zero-value fields from DefaultLedgerConfig and
// returns the merged copy. Pure: the receiver is not modified.
func (config LedgerConfig) MergeWithDefaults() LedgerConfig {
	defaults := DefaultLedgerConfig()
	merged := config
	if merged.MinWithdrawalAmount == 0 {
		merged.MinWithdrawalAmount = defaults.MinWithdrawalAmount
	}
	if merged.DepositLookback == 0 {
		merged.DepositLookback = defaults.DepositLookback
	}
	if merged.Multiplier.StreakThresholdDays == 0 {
		merged.Multiplier.StreakThresholdDays = defaults.Multiplier.StreakThresholdDays
	}
	if merged.Multiplier.StreakMultiplier == 0 {
		merged.Multiplier.StreakMultiplier = defaults.Multiplier.StreakMultiplier
	}
	if merged.Multiplier.StreakWindow == 0 {
		merged.Multiplier.StreakWindow = defaults.Multiplier.StreakWindow
	}
	if merged.Multiplier.GoldenHourMultiplier == 0 {
		merged.Multiplier.GoldenHourMultiplier = defaults.Multiplier.GoldenHourMultiplier
	}
	if merged.Multiplier.GoldenHourStart == (ClockTime{}) && merged.Multiplier.GoldenHourEnd == (ClockTime{}) {
		merged.Multiplier.GoldenHourStart = defaults.Multiplier.GoldenHourStart
		merged.Multiplier.GoldenHourEnd = defaults.Multiplier.GoldenHourEnd
	}
	if merged.Multiplier.GoldenHourOverride == "" {
		merged.Multiplier.GoldenHourOverride = defaults.Multiplier.GoldenHourOverride
	}
	if merged.Rewards.Table == nil {
		merged.Rewards.Table = defaults.Rewards.Table
	}
	if merged.Rewards.ExcludedTokenTypes == nil {
		merged.Rewards.ExcludedTokenTypes = defaults.Rewards.ExcludedTokenTypes
	}
	if merged.Programs == nil {
		merged.Programs = defaults.Programs
	}
	if merged.DefaultProgramKey == "" {
		merged.DefaultProgramKey = defaults.DefaultProgramKey
	}
	return merged
}

// Validate rejects configurations the service cannot run with.
func (config LedgerConfig) Validate() error {
	if config.MinWithdrawalAmount < 0 {
		return fmt.Errorf("%w: negative withdrawal minimum", ErrInvalidLedgerConfig)
	}
	if config.Multiplier.StreakMultiplier < 1 {
		return fmt.Errorf("%w: streak multiplier below 1", ErrInvalidLedgerConfig)
	}
	if config.Multiplier.GoldenHourMultiplier < 1 {
		return fmt.Errorf("%w: golden hour multiplier below 1", ErrInvalidLedgerConfig)
	}
	switch config.Multiplier.GoldenHourOverride {
	case GoldenHourAuto, GoldenHourForceOn, GoldenHourForceOff:
	default:
		return fmt.Errorf("%w: golden hour override %q", ErrInvalidLedgerConfig, config.Multiplier.GoldenHourOverride)
	}
	if _, ok := config.Programs[config.DefaultProgramKey]; !ok {
		return fmt.Errorf("%w: default program %q not configured", ErrInvalidLedgerConfig, config.DefaultProgramKey)
	}
	for key, program := range config.Programs {
		switch program.ExpirePolicy {
		case ExpirePolicyFixed, ExpirePolicyNone:
		default:
			return fmt.Errorf("%w: program %q expire policy %q", ErrInvalidLedgerConfig, key, program.ExpirePolicy)
		}
		if program.ExpirePolicy == ExpirePolicyFixed && program.DurationHours <= 0 {
			return fmt.Errorf("%w: program %q fixed expiry without duration", ErrInvalidLedgerConfig, key)
		}
	}
	return nil
}

// programFor resolves a program key against the configured set.
func (config LedgerConfig) programFor(key string) (ProgramConfig, error) {
	program, ok := config.Programs[key]
	if !ok {
		return ProgramConfig{}, fmt.Errorf("%w: %q", ErrUnknownProgram, key)
	}
	return program, nil
}
