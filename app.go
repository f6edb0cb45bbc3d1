package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"livecast/internal/bootstrap"
	"livecast/internal/config"
	"livecast/internal/domain"
	"livecast/internal/events"
	"livecast/internal/usecase"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.SessionController
	cfg        config.Config
	bootErr    error
	sink       *events.Sink
}

func NewApp() *App {
	app := &App{}
	app.sink = events.NewSink(app)
	return app
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a.sink)
	if err != nil {
		a.bootErr = err
		a.sink.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.sink.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

// shutdown releases devices and the encoder when the window closes.
func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	if err := a.controller.Close(ctx); err != nil {
		a.sink.SessionError(domain.ErrorCodeTeardown, err.Error())
	}
}

// beforeClose tears the session down before the window goes away. It never
// blocks the close.
func (a *App) beforeClose(ctx context.Context) bool {
	if a.controller == nil {
		return false
	}
	if err := a.controller.Teardown(ctx); err != nil {
		a.sink.SessionError(domain.ErrorCodeTeardown, err.Error())
	}
	return false
}

// GoLive creates the stream and starts broadcasting.
func (a *App) GoLive(form domain.StreamForm, sourceMode string, toggles domain.Toggles) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.GoLive(a.ctx, form, domain.SourceMode(sourceMode), toggles)
}

// StopLive ends the broadcast.
func (a *App) StopLive() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.StopLive(a.ctx)
}

func (a *App) ToggleScreenShare() (domain.Toggles, error) {
	if err := a.requireReady(); err != nil {
		return domain.Toggles{}, err
	}
	return a.controller.ToggleScreenShare(a.ctx)
}

func (a *App) ToggleAudio() (domain.Toggles, error) {
	if err := a.requireReady(); err != nil {
		return domain.Toggles{}, err
	}
	return a.controller.ToggleAudio()
}

func (a *App) ToggleVideo() (domain.Toggles, error) {
	if err := a.requireReady(); err != nil {
		return domain.Toggles{}, err
	}
	return a.controller.ToggleVideo()
}

// Teardown is called by the frontend when it leaves the broadcast view.
func (a *App) Teardown() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Teardown(a.ctx)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{State: domain.SessionStateIdle, Active: false, Slots: []domain.Slot{}}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.controller.Status()
}

// EnumerateDevices lists capture devices for the setup form.
func (a *App) EnumerateDevices() ([]domain.DeviceInfo, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.controller.EnumerateDevices(a.ctx)
}

// ChooseThumbnail opens a native file dialog and returns the chosen path,
// or "" when the dialog was dismissed.
func (a *App) ChooseThumbnail() (string, error) {
	if a.ctx == nil {
		return "", fmt.Errorf("application is not initialized")
	}
	return runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Choose a thumbnail",
		Filters: []runtime.FileFilter{
			{DisplayName: "Images (*.png;*.jpg;*.jpeg)", Pattern: "*.png;*.jpg;*.jpeg"},
		},
	})
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backend":    a.cfg.Backend.BaseURL,
		"resolution": fmt.Sprintf("%dx%d@%d", a.cfg.Encoder.Width, a.cfg.Encoder.Height, a.cfg.Encoder.FrameRate),
		"bitrate":    strconv.Itoa(a.cfg.Encoder.VideoBitrateKbps) + "k",
		"camera":     a.cfg.Capture.Camera.Device,
		"microphone": a.cfg.Capture.Microphone.Device,
		"display":    a.cfg.Capture.Screen.Device,
		"configFile": a.cfg.File,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// Emit forwards session events to the frontend.
func (a *App) Emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}
