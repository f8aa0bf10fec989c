// Package config validates and defaults the CLI options from spec §6 into
// a Config that the rest of the program consults, never recomputing
// derived values, the way the teacher's internal/network.NormalizeConfig
// normalizes mesh options in one pass before anything starts.
package config

import "fmt"

// Options are the raw CLI inputs from §6 before validation/defaulting.
type Options struct {
	FrameFactor  uint8  // -n, 1..7
	ULSlotMs     uint16 // -u, 30..310, multiple of 10
	DLSlotMs     uint16 // -d, same range
	ChannelCount uint8  // -c, 1..7
	LogLevel     string // --loglevel, added ambient option
}

// Config is the normalized, immutable configuration the coordinator runs
// with. Derived fields are computed once here so no other package
// recomputes a frame period or LSI ceiling from raw options.
type Config struct {
	FrameFactor  uint8
	ULSlotMs     uint16
	DLSlotMs     uint16
	ChannelCount uint8
	LogLevel     string

	// MaxLSI is 2^FrameFactor, the per-group LSI ceiling (§3).
	MaxLSI uint16
	// FramePeriodMs is F_ms = 2^N * u_ms + 2*d_ms (§4.5 Data-Collection).
	FramePeriodMs uint32
}

const (
	minFrameFactor = 1
	maxFrameFactor = 7

	minSlotMs = 30
	maxSlotMs = 310

	minChannels = 1
	maxChannels = 7

	// DefaultFrameFactor, DefaultULSlotMs, DefaultDLSlotMs and
	// DefaultChannelCount mirror the §6 CLI defaults (-n 6, -u 100, -d 200,
	// -c 1).
	DefaultFrameFactor  = 6
	DefaultULSlotMs     = 100
	DefaultDLSlotMs     = 200
	DefaultChannelCount = 1
)

// Normalize validates opts against the §6 bounds and fills in §6 defaults
// for zero fields, returning a Config with derived fields precomputed.
// Bound violations are configuration errors (§7): Normalize never clamps
// or silently corrects, it fails fast so main can exit before any
// listener opens.
func Normalize(opts Options) (Config, error) {
	cfg := Config{
		FrameFactor:  opts.FrameFactor,
		ULSlotMs:     opts.ULSlotMs,
		DLSlotMs:     opts.DLSlotMs,
		ChannelCount: opts.ChannelCount,
		LogLevel:     opts.LogLevel,
	}

	if cfg.FrameFactor == 0 {
		cfg.FrameFactor = DefaultFrameFactor
	}
	if cfg.ULSlotMs == 0 {
		cfg.ULSlotMs = DefaultULSlotMs
	}
	if cfg.DLSlotMs == 0 {
		cfg.DLSlotMs = DefaultDLSlotMs
	}
	if cfg.ChannelCount == 0 {
		cfg.ChannelCount = DefaultChannelCount
	}

	if cfg.FrameFactor < minFrameFactor || cfg.FrameFactor > maxFrameFactor {
		return Config{}, fmt.Errorf("frame factor -n %d out of range [%d, %d]", cfg.FrameFactor, minFrameFactor, maxFrameFactor)
	}
	if err := validateSlot("-u", cfg.ULSlotMs); err != nil {
		return Config{}, err
	}
	if err := validateSlot("-d", cfg.DLSlotMs); err != nil {
		return Config{}, err
	}
	if cfg.ChannelCount < minChannels || cfg.ChannelCount > maxChannels {
		return Config{}, fmt.Errorf("channel count -c %d out of range [%d, %d]", cfg.ChannelCount, minChannels, maxChannels)
	}

	cfg.MaxLSI = 1 << cfg.FrameFactor
	cfg.FramePeriodMs = uint32(cfg.MaxLSI)*uint32(cfg.ULSlotMs) + 2*uint32(cfg.DLSlotMs)
	return cfg, nil
}

func validateSlot(flag string, ms uint16) error {
	if ms < minSlotMs || ms > maxSlotMs {
		return fmt.Errorf("%s slot size %dms out of range [%d, %d]", flag, ms, minSlotMs, maxSlotMs)
	}
	if ms%10 != 0 {
		return fmt.Errorf("%s slot size %dms must be a multiple of 10", flag, ms)
	}
	return nil
}
