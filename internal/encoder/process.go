package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// encodeRun is one compositing process and the write ends of its input pipes.
type encodeRun struct {
	process *os.Process
	stderr  *bytes.Buffer
	pipes   []*os.File

	exited  chan struct{}
	exitErr error

	stopping atomic.Bool
	stopOnce sync.Once
}

// startRun launches command with one pipe per input and waits out the
// start probe so a bad graph or unreachable output fails immediately.
func startRun(command string, args []string, inputs int, probe time.Duration) (*encodeRun, error) {
	readers := make([]*os.File, 0, inputs)
	writers := make([]*os.File, 0, inputs)
	closeAll := func(files []*os.File) {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for i := 0; i < inputs; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(readers)
			closeAll(writers)
			return nil, fmt.Errorf("failed to create input pipe: %w", err)
		}
		readers = append(readers, r)
		writers = append(writers, w)
	}

	cmd := exec.Command(command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.ExtraFiles = readers
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		closeAll(readers)
		closeAll(writers)
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	closeAll(readers)

	run := &encodeRun{
		process: cmd.Process,
		stderr:  &stderr,
		pipes:   writers,
		exited:  make(chan struct{}),
	}
	go func() {
		run.exitErr = cmd.Wait()
		close(run.exited)
	}()

	timer := time.NewTimer(probe)
	defer timer.Stop()

	select {
	case <-run.exited:
		closeAll(writers)
		detail := trimOutput(stderr.String())
		if run.exitErr != nil {
			return nil, fmt.Errorf("ffmpeg exited before broadcast started: %w: %s", run.exitErr, detail)
		}
		return nil, fmt.Errorf("ffmpeg exited before broadcast started: %s", detail)
	case <-timer.C:
	}

	return run, nil
}

// stop closes the input pipes, interrupts the process and kills it if it
// does not exit within the grace period.
func (r *encodeRun) stop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		for _, w := range r.pipes {
			_ = w.Close()
		}
		select {
		case <-r.exited:
			return
		default:
		}
		_ = r.process.Signal(os.Interrupt)
		select {
		case <-r.exited:
		case <-time.After(stopGrace):
			_ = r.process.Kill()
			<-r.exited
		}
	})
}

// err describes why the process ended.
func (r *encodeRun) err() error {
	detail := trimOutput(r.stderr.String())
	var exitErr *exec.ExitError
	switch {
	case r.exitErr == nil && detail == "":
		return errors.New("ffmpeg exited")
	case r.exitErr == nil:
		return fmt.Errorf("ffmpeg exited: %s", detail)
	case errors.As(r.exitErr, &exitErr) && detail != "":
		return fmt.Errorf("ffmpeg exited: %w: %s", r.exitErr, detail)
	default:
		return fmt.Errorf("ffmpeg exited: %w", r.exitErr)
	}
}

func trimOutput(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
