package usecase

import (
	"errors"

	"github.com/hashicorp/go-multierror"

	"livecast/internal/domain"
)

// rollback releases everything active owns: the encoder is frozen, each
// slot is removed from it, its stream released and the key dropped, then the
// broadcast is stopped and the handle destroyed. Every step tolerates resources that are
// already gone, and a second call finds nothing to do. Errors are logged.
func (c *SessionController) rollback(active *activeSession) {
	if active == nil {
		return
	}

	var result *multierror.Error
	handle := active.getEncoder()
	if handle != nil {
		handle.Freeze()
	}

	for _, slot := range active.slotNames() {
		entry := active.slot(slot)
		if entry == nil {
			continue
		}
		if handle != nil {
			if err := removeInput(handle, slot, entry.kind); err != nil && !errors.Is(err, domain.ErrHandleDestroyed) {
				result = multierror.Append(result, err)
			}
		}
		if err := c.devices.Release(entry.stream); err != nil {
			result = multierror.Append(result, err)
		}
		active.deleteSlot(slot)
	}

	if handle != nil {
		if handle.Broadcasting() {
			if err := handle.StopBroadcast(); err != nil && !errors.Is(err, domain.ErrNotBroadcasting) {
				result = multierror.Append(result, err)
			}
		}
		if err := handle.DetachPreview(); err != nil && !errors.Is(err, domain.ErrHandleDestroyed) {
			result = multierror.Append(result, err)
		}
		if err := handle.Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
		active.setEncoder(nil)
	}

	if err := result.ErrorOrNil(); err != nil {
		c.logger.Warn().Err(err).Str("stream_id", active.streamID).Msg("rollback finished with errors")
	}
}
