// Package mac re-exports the §7 error taxonomy as tested sentinels so
// callers outside the mac subpackages can classify an absorbed error with
// errors.Is without importing registry/schedule/frame directly.
package mac

import (
	"errors"

	"github.com/Long0307/LoRa-GW-SV/internal/mac/frame"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/registry"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/schedule"
)

var (
	// ErrNoCapacity is the §7 "Transient" allocator failure.
	ErrNoCapacity = schedule.ErrNoCapacity
	// ErrParentFull is the §7 "Transient" child-attach failure.
	ErrParentFull = registry.ErrParentFull
	// ErrMalformedFrame is the §7 "Protocol" decode failure.
	ErrMalformedFrame = frame.ErrMalformed
	// ErrUnknownPacketType names the §7 "Protocol" dispatch failure. The
	// dispatcher logs and drops unknown packet types without returning it.
	ErrUnknownPacketType = frame.ErrUnknownPacketType
	// ErrInvalidConfig names the §7 "Configuration" startup failure.
	// config.Normalize reports bound violations as plain formatted errors
	// that do not wrap it.
	ErrInvalidConfig = errors.New("mac: invalid configuration")
)
