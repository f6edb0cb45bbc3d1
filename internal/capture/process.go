package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultStartProbe = 250 * time.Millisecond
	stopGrace         = 1200 * time.Millisecond
)

// ffmpegProcess is one running capture command whose stdout carries raw frames.
type ffmpegProcess struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	exited  chan struct{}
	exitErr error

	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// startProcess launches command and waits out the start probe so that
// immediate failures (missing device, denied permission) surface as errors.
// The process is not bound to ctx; ctx only bounds the probe.
func startProcess(ctx context.Context, command string, args []string, probe time.Duration) (*ffmpegProcess, error) {
	if probe <= 0 {
		probe = defaultStartProbe
	}

	cmd := exec.Command(command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &startError{err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	p := &ffmpegProcess{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		exited:  make(chan struct{}),
	}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	timer := time.NewTimer(probe)
	defer timer.Stop()

	select {
	case <-p.exited:
		detail := trimOutput(stderr.String())
		if p.exitErr != nil {
			return nil, &startError{err: fmt.Errorf("ffmpeg exited before capture started: %w: %s", p.exitErr, detail), stderr: detail}
		}
		return nil, &startError{err: errors.New("ffmpeg exited before capture started"), stderr: detail}
	case <-ctx.Done():
		_ = p.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	return p, nil
}

// Exited is closed once the process has terminated for any reason.
func (p *ffmpegProcess) Exited() <-chan struct{} {
	return p.exited
}

// Stopping reports whether Stop was requested, as opposed to the process
// ending on its own.
func (p *ffmpegProcess) Stopping() bool {
	return p.stopping.Load()
}

func (p *ffmpegProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *ffmpegProcess) Stop() error {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		select {
		case <-p.exited:
		default:
			if p.process != nil {
				_ = p.process.Signal(os.Interrupt)
			}
			select {
			case <-p.exited:
			case <-time.After(stopGrace):
				if p.process != nil {
					_ = p.process.Kill()
				}
				<-p.exited
			}
		}
		p.stopErr = normalizeStopErr(p.exitErr)

		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, trimOutput(p.stderr.String()))
		}
	})

	return p.stopErr
}

// startError keeps ffmpeg's stderr so the caller can classify the failure.
type startError struct {
	err    error
	stderr string
}

func (e *startError) Error() string { return e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
