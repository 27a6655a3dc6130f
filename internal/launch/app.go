// Package launch starts and stops the application under test as a child
// process, captures its output, and probes its HTTP endpoint for readiness.
package launch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"quest/internal/plan"
)

// ErrAppTimeout is returned when the application never answered its
// readiness probe within the bounded wait.
var ErrAppTimeout = errors.New("timed out waiting for application to be ready")

// Readiness probe parameters. The app gets a generous startup window since
// compiled services routinely run migrations or warm pools on boot.
const (
	probeAttempts = 15
	probeInterval = time.Second
	probeTimeout  = 2 * time.Second
)

// App is a running application-under-test process.
type App struct {
	cmd *exec.Cmd
	log *slog.Logger

	mu    sync.Mutex
	lines []string

	stream bool
	done   chan struct{}
}

// Start spawns the configured command with an explicit environment: the
// parent's environment, the plan's env entries on top, and the database URL
// injected under the configured variable name. The child's stdout and stderr
// are captured line by line; stream additionally mirrors them to stderr as
// they arrive.
//
// A plan with no command returns (nil, nil): the app is assumed to be
// already running and only the readiness probe applies.
func Start(cfg *plan.Setup, dbURL string, stream bool) (*App, error) {
	if cfg.Command == "" {
		return nil, nil
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, cfg.DatabaseURLEnv+"="+dbURL)
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	app := &App{
		cmd:    cmd,
		log:    slog.Default().With("component", "app", "pid", cmd.Process.Pid),
		stream: stream,
		done:   make(chan struct{}),
	}
	app.log.Info("application started", "command", cfg.Command)

	var wg sync.WaitGroup
	wg.Add(2)
	go app.capture(stdout, &wg)
	go app.capture(stderr, &wg)
	go func() {
		wg.Wait()
		close(app.done)
	}()

	return app, nil
}

func (a *App) capture(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		a.mu.Lock()
		a.lines = append(a.lines, line)
		a.mu.Unlock()
		if a.stream {
			fmt.Fprintln(os.Stderr, "[app] "+line)
		}
	}
}

// Output returns everything the app has written so far, one entry per line.
func (a *App) Output() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.lines))
	copy(out, a.lines)
	return out
}

// Stop terminates the process and waits for output capture to drain.
// Safe to call on a nil App.
func (a *App) Stop() {
	if a == nil {
		return
	}

	if err := a.cmd.Process.Kill(); err != nil {
		a.log.Debug("kill failed", "error", err)
	}

	// Let output capture drain before Wait closes the pipes.
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
	}

	// Wait reaps the child; the error is expected after a kill.
	_ = a.cmd.Wait()

	a.log.Info("application stopped")
}

// WaitReady polls the readiness URL until any HTTP response arrives. Any
// status counts as ready; the probe checks reachability, not health.
// readyWhen overrides the probed path; empty probes the base URL itself.
func WaitReady(ctx context.Context, baseURL, readyWhen string) error {
	probeURL := baseURL
	if readyWhen != "" {
		probeURL = baseURL + readyWhen
	}

	client := &http.Client{Timeout: probeTimeout}
	log := slog.Default().With("component", "app")

	for i := 0; i < probeAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			return fmt.Errorf("build readiness probe: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			log.Info("application ready", "url", probeURL, "attempts", i+1)
			return nil
		}

		log.Debug("not ready yet", "attempt", i+1, "error", err)
		time.Sleep(probeInterval)
	}

	return ErrAppTimeout
}
