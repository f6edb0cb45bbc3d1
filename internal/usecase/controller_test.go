package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

func TestGoLiveCameraWithMicrophone(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	status, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("go live: %v", err)
	}
	if status.State != domain.SessionStateLive {
		t.Fatalf("expected live, got %s", status.State)
	}
	if status.StreamID != "stream-1" {
		t.Fatalf("unexpected stream id %q", status.StreamID)
	}
	if status.LiveSince == nil {
		t.Fatalf("expected live since to be set")
	}
	want := []domain.Slot{domain.SlotCamera, domain.SlotMic}
	if len(status.Slots) != len(want) || status.Slots[0] != want[0] || status.Slots[1] != want[1] {
		t.Fatalf("unexpected slots %v", status.Slots)
	}
	if !status.Toggles.Audio || !status.Toggles.Video || status.Toggles.ScreenSharing {
		t.Fatalf("unexpected toggles %+v", status.Toggles)
	}

	handle := h.encoder.last()
	if handle.endpoint != "ingest.example.com" {
		t.Fatalf("unexpected endpoint %q", handle.endpoint)
	}
	if !handle.Broadcasting() || handle.streamKey != "sk_secret" {
		t.Fatalf("expected broadcast with stream key")
	}
	opts, ok := handle.slotOptions(domain.SlotCamera)
	if !ok || opts.Index != 0 || opts.Position != domain.FullCanvas {
		t.Fatalf("unexpected camera placement %+v", opts)
	}

	states := h.events.snapshotStates()
	if len(states) != 2 ||
		states[0] != (stateEvent{domain.SessionStateAcquiringDevices, domain.SessionReasonAcquiring}) ||
		states[1] != (stateEvent{domain.SessionStateLive, domain.SessionReasonWentLive}) {
		t.Fatalf("unexpected states %+v", states)
	}
	assertInvariants(t, h)
}

func TestGoLiveBothModeLaysOutSideBySide(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeBoth, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	handle := h.encoder.last()
	camera, _ := handle.slotOptions(domain.SlotCamera)
	screen, _ := handle.slotOptions(domain.SlotScreen)
	if camera.Index != 0 || screen.Index != 1 {
		t.Fatalf("unexpected indices camera=%d screen=%d", camera.Index, screen.Index)
	}
	if screen.Position.W+camera.Position.W != 1 || camera.Position.X != screen.Position.W {
		t.Fatalf("unexpected rects camera=%+v screen=%+v", camera.Position, screen.Position)
	}
	if !h.controller.Status().Toggles.ScreenSharing {
		t.Fatalf("expected screen sharing toggle on")
	}
	assertInvariants(t, h)
}

func TestGoLiveVideoToggleOffSkipsCamera(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	status, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true})
	if err != nil {
		t.Fatalf("go live: %v", err)
	}
	if len(status.Slots) != 1 || status.Slots[0] != domain.SlotMic {
		t.Fatalf("unexpected slots %v", status.Slots)
	}
	if status.Toggles.Video {
		t.Fatalf("video toggle should stay off")
	}
}

func TestGoLiveScreenCancelledRollsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.devices.screenErr = domain.ErrUserCancelled

	status, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeBoth, domain.Toggles{Audio: true, Video: true})
	if !errors.Is(err, domain.ErrGoLiveFailed) || !errors.Is(err, domain.ErrUserCancelled) {
		t.Fatalf("expected go live failure caused by cancel, got %v", err)
	}
	var goLiveErr *GoLiveError
	if !errors.As(err, &goLiveErr) || goLiveErr.Step != StepScreen {
		t.Fatalf("expected screen step failure, got %v", err)
	}
	if status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle, got %s", status.State)
	}

	camera := h.devices.streamNamed("camera")
	if camera == nil || !camera.stopped() {
		t.Fatalf("camera should have been acquired and released")
	}
	if !h.encoder.last().isDestroyed() {
		t.Fatalf("encoder handle should be destroyed")
	}
	if calls := h.devices.calls; len(calls) != 2 || calls[1] != "screen" {
		t.Fatalf("microphone should not be acquired after a screen failure: %v", calls)
	}
	if notified := h.backend.notifyCalls(); len(notified) != 1 || notified[0].streamID != "stream-1" {
		t.Fatalf("expected stop notification for the created record, got %+v", notified)
	}

	states := h.events.snapshotStates()
	last := states[len(states)-1]
	if last != (stateEvent{domain.SessionStateIdle, domain.SessionReasonGoLiveFailed}) {
		t.Fatalf("unexpected final state %+v", last)
	}
	errs := h.events.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1].code != domain.ErrorCodeGoLive {
		t.Fatalf("expected golive error event, got %+v", errs)
	}
	assertInvariants(t, h)
}

func TestGoLiveRollbackAtEveryStep(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	cases := []struct {
		name   string
		step   GoLiveStep
		inject func(*harness)
	}{
		{name: "ingest", step: StepIngest, inject: func(h *harness) { h.backend.ingestErr = domain.ErrIngestConfigUnavailable }},
		{name: "encoder", step: StepEncoder, inject: func(h *harness) { h.encoder.createErr = domain.ErrConfigInvalid }},
		{name: "camera", step: StepCamera, inject: func(h *harness) { h.devices.cameraErr = domain.ErrPermissionDenied }},
		{name: "screen", step: StepScreen, inject: func(h *harness) { h.devices.screenErr = domain.ErrNoDeviceFound }},
		{name: "microphone", step: StepMic, inject: func(h *harness) { h.devices.micErr = domain.ErrPermissionDenied }},
		{name: "broadcast", step: StepBroadcast, inject: func(h *harness) { h.encoder.startErr = errors.Join(domain.ErrIngestUnreachable, boom) }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			tc.inject(h)

			_, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeBoth, domain.Toggles{Audio: true, Video: true})
			var goLiveErr *GoLiveError
			if !errors.As(err, &goLiveErr) || goLiveErr.Step != tc.step {
				t.Fatalf("expected failure at %s, got %v", tc.step, err)
			}
			if !errors.Is(err, domain.ErrGoLiveFailed) {
				t.Fatalf("expected ErrGoLiveFailed, got %v", err)
			}

			for _, stream := range h.devices.snapshotAcquired() {
				if !stream.stopped() {
					t.Fatalf("stream %s still running after rollback", stream.id)
				}
			}
			if handle := h.encoder.last(); handle != nil {
				if !handle.isDestroyed() || handle.Broadcasting() {
					t.Fatalf("encoder handle not released")
				}
			}
			if status := h.controller.Status(); status.State != domain.SessionStateIdle || len(status.Slots) != 0 {
				t.Fatalf("expected clean idle status, got %+v", status)
			}
			assertInvariants(t, h)

			// A fresh attempt must be possible once the fault is gone.
			h.backend.ingestErr = nil
			h.encoder.createErr = nil
			h.devices.cameraErr, h.devices.screenErr, h.devices.micErr = nil, nil, nil
			h.encoder.startErr = nil
			if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
				t.Fatalf("retry go live: %v", err)
			}
		})
	}
}

func TestIngestLookupRunsBeforeAcquiring(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var during domain.Status
	h.backend.onIngest = func() { during = h.controller.Status() }

	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	if during.State != domain.SessionStateIdle || during.Active {
		t.Fatalf("expected idle while the ingest lookup runs, got %+v", during)
	}
	if h.encoder.last() == nil {
		t.Fatalf("expected encoder to be created after the lookup")
	}
}

func TestIngestFailureNotifiesAndStaysIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.ingestErr = domain.ErrIngestConfigUnavailable

	_, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true})
	if !errors.Is(err, domain.ErrGoLiveFailed) || !errors.Is(err, domain.ErrIngestConfigUnavailable) {
		t.Fatalf("unexpected error %v", err)
	}
	for _, s := range h.events.snapshotStates() {
		if s.state != domain.SessionStateIdle {
			t.Fatalf("no transition expected before the ingest is known, got %+v", s)
		}
	}
	if calls := h.backend.notifyCalls(); len(calls) != 1 || calls[0].streamID != "stream-1" {
		t.Fatalf("expected one stop notification, got %+v", calls)
	}
	if h.encoder.last() != nil || len(h.devices.calls) != 0 {
		t.Fatalf("no encoder or device should be touched")
	}
}

func TestRollbackIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeBoth, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	active := h.controller.getCurrent()

	h.controller.rollback(active)
	released := h.devices.released
	h.controller.rollback(active)

	if h.devices.released != released {
		t.Fatalf("second rollback released again: %d -> %d", released, h.devices.released)
	}
	if len(active.slotNames()) != 0 || active.getEncoder() != nil {
		t.Fatalf("rollback left resources behind")
	}
}

func TestGoLiveRejectsWhenSessionActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	status, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Video: true})
	if !errors.Is(err, domain.ErrAlreadySessionActive) {
		t.Fatalf("expected ErrAlreadySessionActive, got %v", err)
	}
	if status.State != domain.SessionStateLive {
		t.Fatalf("existing session should stay live, got %s", status.State)
	}
	if h.backend.createCalls() != 1 {
		t.Fatalf("second attempt must not create a stream record")
	}
}

func TestGoLiveInvalidFormTouchesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	form := validForm()
	form.Title = "   "

	_, err := h.controller.GoLive(context.Background(), form, domain.SourceModeCamera, domain.Toggles{Video: true})
	if !errors.Is(err, domain.ErrInvalidForm) {
		t.Fatalf("expected ErrInvalidForm, got %v", err)
	}
	if h.backend.createCalls() != 0 || len(h.devices.calls) != 0 {
		t.Fatalf("invalid form reached collaborators")
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeValidation {
		t.Fatalf("unexpected errors %+v", errs)
	}
}

func TestGoLiveStreamCreationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.createErr = errors.New("backend down")

	status, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Video: true})
	if !errors.Is(err, domain.ErrStreamCreationFailed) {
		t.Fatalf("expected ErrStreamCreationFailed, got %v", err)
	}
	if status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle, got %s", status.State)
	}
	if len(h.devices.calls) != 0 || h.encoder.last() != nil {
		t.Fatalf("devices or encoder touched before a record existed")
	}
	if len(h.backend.notifyCalls()) != 0 {
		t.Fatalf("no record means nothing to notify")
	}
	states := h.events.snapshotStates()
	if len(states) != 1 || states[0].reason != domain.SessionReasonCreationFailed {
		t.Fatalf("unexpected states %+v", states)
	}
}

func TestStopLiveReleasesAndNotifies(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeBoth, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	status, err := h.controller.StopLive(context.Background())
	if err != nil {
		t.Fatalf("stop live: %v", err)
	}
	if status.State != domain.SessionStateIdle || status.StreamID != "" {
		t.Fatalf("unexpected status %+v", status)
	}
	for _, stream := range h.devices.snapshotAcquired() {
		if !stream.stopped() {
			t.Fatalf("stream %s still running", stream.id)
		}
	}
	if !h.encoder.last().isDestroyed() {
		t.Fatalf("encoder should be destroyed")
	}
	notified := h.backend.notifyCalls()
	if len(notified) != 1 || notified[0].playbackURL != "https://play.example.com/stream-1.m3u8" {
		t.Fatalf("unexpected notifications %+v", notified)
	}
	states := h.events.snapshotStates()
	tail := states[len(states)-2:]
	if tail[0] != (stateEvent{domain.SessionStateStopping, domain.SessionReasonStopRequested}) ||
		tail[1] != (stateEvent{domain.SessionStateIdle, domain.SessionReasonStopped}) {
		t.Fatalf("unexpected stop transitions %+v", tail)
	}
	assertInvariants(t, h)
}

func TestStopLiveFreezesEncoderBeforeRemovingInputs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeBoth, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	handle := h.encoder.last()

	if _, err := h.controller.StopLive(context.Background()); err != nil {
		t.Fatalf("stop live: %v", err)
	}
	if n := handle.unfrozenLiveRemovals(); n != 0 {
		t.Fatalf("expected every teardown removal on a frozen encoder, got %d live removals", n)
	}
	if len(handle.Slots()) != 0 || !handle.isDestroyed() {
		t.Fatalf("encoder not emptied")
	}
}

func TestStopLiveNotifyFailureStillIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.notifyErr = errors.New("502 bad gateway")
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}

	status, err := h.controller.StopLive(context.Background())
	if !errors.Is(err, domain.ErrBackendNotificationFailed) {
		t.Fatalf("expected ErrBackendNotificationFailed, got %v", err)
	}
	if status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle despite notify failure, got %s", status.State)
	}
	if !h.encoder.last().isDestroyed() {
		t.Fatalf("resources must be released before notifying")
	}
	states := h.events.snapshotStates()
	if last := states[len(states)-1]; last.reason != domain.SessionReasonNotifyFailed {
		t.Fatalf("unexpected final reason %s", last.reason)
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeStopNotify {
		t.Fatalf("unexpected errors %+v", errs)
	}
}

func TestStopLiveWhenIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.StopLive(context.Background()); !errors.Is(err, domain.ErrNotLive) {
		t.Fatalf("expected ErrNotLive, got %v", err)
	}
	if len(h.backend.notifyCalls()) != 0 {
		t.Fatalf("idle stop must not notify")
	}
}

func TestToggleScreenShareWhileLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}

	toggles, err := h.controller.ToggleScreenShare(context.Background())
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !toggles.ScreenSharing {
		t.Fatalf("expected screen sharing on")
	}
	opts, ok := h.encoder.last().slotOptions(domain.SlotScreen)
	if !ok || opts.Index != 1 || opts.Position.W >= 1 {
		t.Fatalf("unexpected screen placement %+v", opts)
	}
	assertInvariants(t, h)

	toggles, err = h.controller.ToggleScreenShare(context.Background())
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if toggles.ScreenSharing {
		t.Fatalf("expected screen sharing off")
	}
	if screen := h.devices.streamNamed("screen"); screen == nil || !screen.stopped() {
		t.Fatalf("screen stream should be released")
	}
	if h.controller.Status().State != domain.SessionStateLive {
		t.Fatalf("session should stay live")
	}
	assertInvariants(t, h)
}

func TestToggleScreenShareFailureKeepsLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	h.devices.screenErr = domain.ErrUserCancelled

	toggles, err := h.controller.ToggleScreenShare(context.Background())
	if !errors.Is(err, domain.ErrUserCancelled) {
		t.Fatalf("expected cancel, got %v", err)
	}
	if toggles.ScreenSharing {
		t.Fatalf("screen sharing should stay off")
	}
	if h.controller.Status().State != domain.SessionStateLive {
		t.Fatalf("session should stay live")
	}
	assertInvariants(t, h)
}

func TestToggleScreenShareRequiresLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.ToggleScreenShare(context.Background()); !errors.Is(err, domain.ErrNotLive) {
		t.Fatalf("expected ErrNotLive, got %v", err)
	}
}

func TestToggleAudioAndVideo(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}

	toggles, err := h.controller.ToggleAudio()
	if err != nil {
		t.Fatalf("toggle audio: %v", err)
	}
	if toggles.Audio {
		t.Fatalf("expected audio off")
	}
	mic := h.devices.streamNamed("microphone")
	if mic.tracks[0].Enabled() || mic.stopped() {
		t.Fatalf("muted microphone should be disabled but still running")
	}

	toggles, err = h.controller.ToggleVideo()
	if err != nil {
		t.Fatalf("toggle video: %v", err)
	}
	if toggles.Video {
		t.Fatalf("expected video off")
	}
	if h.devices.streamNamed("camera").tracks[0].Enabled() {
		t.Fatalf("camera track should be disabled")
	}

	toggles, _ = h.controller.ToggleAudio()
	if !toggles.Audio || !mic.tracks[0].Enabled() {
		t.Fatalf("expected audio back on")
	}
	assertInvariants(t, h)
}

func TestToggleAudioWithoutMicrophone(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}

	toggles, err := h.controller.ToggleAudio()
	if err != nil {
		t.Fatalf("toggling a missing microphone should only warn, got %v", err)
	}
	if toggles.Audio || !toggles.Video {
		t.Fatalf("toggles must be unchanged, got %+v", toggles)
	}
	warnings := h.events.snapshotWarnings()
	if len(warnings) != 1 || warnings[0].code != domain.WarningDeviceNotActive || warnings[0].detail != string(domain.SlotMic) {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	if state := h.controller.Status().State; state != domain.SessionStateLive {
		t.Fatalf("session should stay live, got %s", state)
	}
	assertInvariants(t, h)
}

func TestToggleVideoWhenIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	toggles, err := h.controller.ToggleVideo()
	if err != nil {
		t.Fatalf("expected a warning-only no-op, got %v", err)
	}
	if toggles != (domain.Toggles{}) {
		t.Fatalf("unexpected toggles %+v", toggles)
	}
	warnings := h.events.snapshotWarnings()
	if len(warnings) != 1 || warnings[0].code != domain.WarningDeviceNotActive {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
}

func TestScreenShareEndedByPlatform(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeBoth, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}

	h.devices.streamNamed("screen").tracks[0].end()

	waitFor(t, "screen slot removal", func() bool {
		return !h.controller.Status().Toggles.ScreenSharing
	})
	status := h.controller.Status()
	if status.State != domain.SessionStateLive {
		t.Fatalf("session should stay live, got %s", status.State)
	}
	for _, slot := range status.Slots {
		if slot == domain.SlotScreen {
			t.Fatalf("screen slot still present")
		}
	}
	waitFor(t, "screen warning", func() bool {
		warnings := h.events.snapshotWarnings()
		return len(warnings) == 1 && warnings[0].code == domain.WarningScreenEnded
	})
	assertInvariants(t, h)

	// The session can share again after the platform ended the previous share.
	if _, err := h.controller.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("re-share: %v", err)
	}
}

func TestScreenEndedWhileBeingAttached(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	h.encoder.last().onAdd = func(stream ports.MediaStream, slot domain.Slot) {
		if slot == domain.SlotScreen {
			stream.(*fakeStream).tracks[0].end()
		}
	}

	if _, err := h.controller.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("share: %v", err)
	}
	waitFor(t, "screen share cleared", func() bool {
		status := h.controller.Status()
		for _, slot := range status.Slots {
			if slot == domain.SlotScreen {
				return false
			}
		}
		return !status.Toggles.ScreenSharing
	})
	if state := h.controller.Status().State; state != domain.SessionStateLive {
		t.Fatalf("session should stay live, got %s", state)
	}
	assertInvariants(t, h)
}

func TestCameraLostKeepsSessionLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}

	h.devices.streamNamed("camera").tracks[0].end()

	waitFor(t, "camera slot removal", func() bool {
		return !h.controller.Status().Toggles.Video
	})
	status := h.controller.Status()
	if status.State != domain.SessionStateLive || len(status.Slots) != 1 || status.Slots[0] != domain.SlotMic {
		t.Fatalf("unexpected status %+v", status)
	}
	waitFor(t, "device lost warning", func() bool {
		warnings := h.events.snapshotWarnings()
		return len(warnings) == 1 && warnings[0].code == domain.WarningDeviceLost
	})
	assertInvariants(t, h)
}

func TestStaleTrackEndIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	first := h.devices.streamNamed("camera")
	if _, err := h.controller.StopLive(context.Background()); err != nil {
		t.Fatalf("stop live: %v", err)
	}
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Video: true}); err != nil {
		t.Fatalf("second go live: %v", err)
	}

	first.tracks[0].end()
	h.devices.streamNamed("camera").tracks[0].end()
	waitFor(t, "current camera loss", func() bool {
		return len(h.events.snapshotWarnings()) > 0
	})
	time.Sleep(20 * time.Millisecond)

	if warnings := h.events.snapshotWarnings(); len(warnings) != 1 {
		t.Fatalf("stale event produced warnings: %+v", warnings)
	}
	if h.controller.Status().State != domain.SessionStateLive {
		t.Fatalf("session should stay live")
	}
}

func TestEncoderTerminationForcesIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}

	h.encoder.last().terminate(errors.New("ffmpeg exited: connection reset"))

	waitFor(t, "idle after encoder failure", func() bool {
		return h.controller.Status().State == domain.SessionStateIdle
	})
	for _, stream := range h.devices.snapshotAcquired() {
		if !stream.stopped() {
			t.Fatalf("stream %s still running", stream.id)
		}
	}
	waitFor(t, "stop notification", func() bool { return len(h.backend.notifyCalls()) == 1 })
	errs := h.events.snapshotErrors()
	if len(errs) == 0 || errs[0].code != domain.ErrorCodeEncoder {
		t.Fatalf("unexpected errors %+v", errs)
	}
	states := h.events.snapshotStates()
	if last := states[len(states)-1]; last != (stateEvent{domain.SessionStateIdle, domain.SessionReasonEncoderFailed}) {
		t.Fatalf("unexpected final state %+v", last)
	}
	assertInvariants(t, h)
}

func TestTeardownCancelsInFlightGoLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.devices.cameraGate = make(chan struct{})
	h.devices.cameraWaiting = make(chan struct{})

	result := make(chan error, 1)
	go func() {
		_, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeCamera, domain.Toggles{Audio: true, Video: true})
		result <- err
	}()

	<-h.devices.cameraWaiting
	if err := h.controller.Teardown(context.Background()); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	err := <-result
	if !errors.Is(err, domain.ErrGoLiveFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled go live, got %v", err)
	}
	if status := h.controller.Status(); status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle, got %s", status.State)
	}
	if !h.encoder.last().isDestroyed() {
		t.Fatalf("encoder should be destroyed")
	}
	for _, call := range h.devices.calls {
		if call == "microphone" {
			t.Fatalf("microphone acquired after cancellation")
		}
	}
	assertInvariants(t, h)
}

func TestTeardownWhileLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.controller.GoLive(context.Background(), validForm(), domain.SourceModeScreen, domain.Toggles{Audio: true}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	if err := h.controller.Teardown(context.Background()); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if h.controller.Status().State != domain.SessionStateIdle {
		t.Fatalf("expected idle")
	}
	if len(h.backend.notifyCalls()) != 1 {
		t.Fatalf("teardown should notify the backend")
	}
	states := h.events.snapshotStates()
	if last := states[len(states)-1]; last.reason != domain.SessionReasonTornDown {
		t.Fatalf("unexpected final reason %s", last.reason)
	}

	// Idle teardown is a no-op.
	if err := h.controller.Teardown(context.Background()); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
	if len(h.backend.notifyCalls()) != 1 {
		t.Fatalf("idle teardown notified again")
	}
}
