package vault

import (
	"errors"
	"testing"
	"time"
)

func TestMergeWithDefaultsFillsZeroFields(test *testing.T) {
	test.Parallel()
	merged := LedgerConfig{}.MergeWithDefaults()
	defaults := DefaultLedgerConfig()
	if merged.MinWithdrawalAmount != defaults.MinWithdrawalAmount {
		test.Fatalf("minimum not defaulted: %+v", merged)
	}
	if merged.Multiplier.StreakWindow != time.Hour {
		test.Fatalf("streak window not defaulted: %v", merged.Multiplier.StreakWindow)
	}
	if merged.Multiplier.GoldenHourStart != (ClockTime{Hour: 21, Minute: 30}) {
		test.Fatalf("golden hour start not defaulted: %+v", merged.Multiplier.GoldenHourStart)
	}
	if _, ok := merged.Programs["default"]; !ok {
		test.Fatalf("default program missing: %+v", merged.Programs)
	}
	if err := merged.Validate(); err != nil {
		test.Fatalf("merged defaults invalid: %v", err)
	}
}

func TestMergeWithDefaultsKeepsExplicitValues(test *testing.T) {
	test.Parallel()
	config := LedgerConfig{MinWithdrawalAmount: 5000}
	config.Multiplier.GoldenHourMultiplier = 1.5
	merged := config.MergeWithDefaults()
	if merged.MinWithdrawalAmount != 5000 {
		test.Fatalf("explicit minimum overwritten: %d", merged.MinWithdrawalAmount)
	}
	if merged.Multiplier.GoldenHourMultiplier != 1.5 {
		test.Fatalf("explicit multiplier overwritten: %v", merged.Multiplier.GoldenHourMultiplier)
	}
	// Pure merge: the receiver stays untouched.
	if config.Multiplier.StreakWindow != 0 {
		test.Fatalf("merge mutated its receiver: %+v", config)
	}
}

func TestValidateRejectsBrokenConfigs(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name   string
		mutate func(*LedgerConfig)
	}{
		{"sub-unit streak multiplier", func(config *LedgerConfig) { config.Multiplier.StreakMultiplier = 0.5 }},
		{"sub-unit golden multiplier", func(config *LedgerConfig) { config.Multiplier.GoldenHourMultiplier = 0.9 }},
		{"unknown override", func(config *LedgerConfig) { config.Multiplier.GoldenHourOverride = "SOMETIMES" }},
		{"missing default program", func(config *LedgerConfig) { config.DefaultProgramKey = "ghost" }},
		{"fixed expiry without duration", func(config *LedgerConfig) {
			config.Programs = map[string]ProgramConfig{"default": {ExpirePolicy: ExpirePolicyFixed}}
		}},
	}
	for _, testCase := range cases {
		config := DefaultLedgerConfig()
		testCase.mutate(&config)
		if err := config.Validate(); !errors.Is(err, ErrInvalidLedgerConfig) {
			test.Errorf("%s: expected ErrInvalidLedgerConfig, got %v", testCase.name, err)
		}
	}
}

func TestNewServiceRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, LedgerConfig{}, func() time.Time { return time.Now() }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("nil store: %v", err)
	}
	if _, err := NewService(newMemStore(), LedgerConfig{}, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("nil clock: %v", err)
	}
}
