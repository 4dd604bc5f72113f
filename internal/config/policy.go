package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

// Policy holds the fine rules shared by the ledger, settlement and reports.
type Policy struct {
	// LateThreshold is the number of late marks tolerated before each further mark accrues a fine unit.
	LateThreshold int `toml:"late_threshold"`
	// FineUnitPrice is the currency amount of one fine unit.
	FineUnitPrice int64 `toml:"fine_unit_price"`
	// MaxEntries caps the roll numbers held by one account document.
	MaxEntries int `toml:"max_entries_per_account"`
	// Timezone names the IANA zone used for period tags and the reset schedule.
	Timezone string `toml:"timezone"`
}

// DefaultPolicy returns the policy the scanners were deployed with.
func DefaultPolicy() Policy {
	return Policy{
		LateThreshold: 3,
		FineUnitPrice: 50,
		MaxEntries:    5000,
		Timezone:      "Asia/Kolkata",
	}
}

// LoadPolicy reads a TOML policy file. Keys missing from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects policies that would make the ledger meaningless.
func (p Policy) Validate() error {
	if p.LateThreshold < 0 {
		return errors.New("late_threshold must not be negative")
	}
	if p.FineUnitPrice <= 0 {
		return errors.New("fine_unit_price must be positive")
	}
	if p.MaxEntries <= 0 {
		return errors.New("max_entries_per_account must be positive")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC when the zone database lacks it.
func (p Policy) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
