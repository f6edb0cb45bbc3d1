package usecase

import (
	"context"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

type platformEventKind int

const (
	eventTrackEnded platformEventKind = iota
	eventEncoderTerminated
)

// platformEvent is a device or encoder lifecycle change the session did not
// ask for. It names the session and stream it refers to so late deliveries
// can be recognised and dropped.
type platformEvent struct {
	kind    platformEventKind
	session *activeSession
	slot    domain.Slot
	stream  ports.MediaStream
	err     error
}

func (c *SessionController) post(ev platformEvent) {
	select {
	case c.platform <- ev:
	case <-c.done:
	}
}

func (c *SessionController) consumePlatformEvents() {
	defer close(c.loopDone)
	for {
		select {
		case ev := <-c.platform:
			c.handlePlatformEvent(ev)
		case <-c.done:
			return
		}
	}
}

func (c *SessionController) handlePlatformEvent(ev platformEvent) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.getCurrent() != ev.session || c.getState() != domain.SessionStateLive {
		return
	}

	switch ev.kind {
	case eventTrackEnded:
		c.handleTrackEnded(ev)
	case eventEncoderTerminated:
		c.handleEncoderTerminated(ev)
	}
}

// handleTrackEnded treats an ended screen share as toggling it off, and a
// lost camera or microphone as dropping that source while staying live.
func (c *SessionController) handleTrackEnded(ev platformEvent) {
	active := ev.session
	entry := active.slot(ev.slot)
	if entry == nil || entry.stream != ev.stream {
		return
	}

	c.releaseSlot(active, ev.slot)

	var (
		toggles domain.Toggles
		warning domain.WarningCode
	)
	switch ev.slot {
	case domain.SlotScreen:
		toggles = active.updateToggles(func(t *domain.Toggles) { t.ScreenSharing = false })
		warning = domain.WarningScreenEnded
	case domain.SlotCamera:
		toggles = active.updateToggles(func(t *domain.Toggles) { t.Video = false })
		warning = domain.WarningDeviceLost
	default:
		toggles = active.updateToggles(func(t *domain.Toggles) { t.Audio = false })
		warning = domain.WarningDeviceLost
	}

	c.logger.Info().Str("slot", string(ev.slot)).Msg("track ended by platform")
	c.events.SessionWarning(warning, string(ev.slot))
	c.events.TogglesChanged(toggles)
}

// handleEncoderTerminated forces the session back to idle.
func (c *SessionController) handleEncoderTerminated(ev platformEvent) {
	active := ev.session
	detail := "encoder terminated"
	if ev.err != nil {
		detail = ev.err.Error()
	}

	c.logger.Error().Err(ev.err).Str("stream_id", active.streamID).Msg("encoder terminated")
	c.events.SessionError(domain.ErrorCodeEncoder, detail)

	c.transition(domain.SessionStateStopping, domain.SessionReasonEncoderFailed)
	c.rollback(active)
	_ = c.notifyStopped(context.Background(), active)
	c.transition(domain.SessionStateIdle, domain.SessionReasonEncoderFailed)
}
