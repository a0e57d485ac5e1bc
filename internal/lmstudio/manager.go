// Package lmstudio makes sure a local LM Studio server is running with the
// configured model loaded before the relay starts taking messages.
package lmstudio

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
)

// ProbeFunc reports whether the backend API answers.
type ProbeFunc func(ctx context.Context) error

// Options configure a Manager.
type Options struct {
	Binary   string
	Model    string
	APIBase  string
	APIKey   string
	Attempts int
	Delay    time.Duration
	Runner   Runner
	Probe    ProbeFunc
}

// Manager controls the LM Studio server through the lms CLI.
type Manager struct {
	binary   string
	model    string
	attempts int
	delay    time.Duration
	run      Runner
	probe    ProbeFunc
	started  bool
}

// New creates a manager. Without an explicit Probe it lists models through
// the OpenAI-compatible API at APIBase.
func New(opts Options) *Manager {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = 5 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Probe == nil {
		opts.Probe = modelsProbe(opts.APIBase, opts.APIKey)
	}
	return &Manager{
		binary:   opts.Binary,
		model:    opts.Model,
		attempts: opts.Attempts,
		delay:    opts.Delay,
		run:      opts.Runner,
		probe:    opts.Probe,
	}
}

func modelsProbe(base, key string) ProbeFunc {
	client := openai.NewClient(
		option.WithBaseURL(base),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
	)
	return func(ctx context.Context) error {
		_, err := client.Models.List(ctx)
		return err
	}
}

// Started reports whether Ensure launched the server.
func (m *Manager) Started() bool {
	return m.started
}

// Ensure starts the server when it does not answer and loads the model.
func (m *Manager) Ensure(ctx context.Context) error {
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if err := m.probe(ctx); err == nil {
			logutil.Info("LM Studio server is already running", nil)
			return m.ensureModel(ctx)
		}

		logutil.Info("starting LM Studio server", map[string]interface{}{"attempt": attempt, "max_attempts": m.attempts})
		if res := m.lms(ctx, "server", "start"); res.ExitCode != 0 {
			return fmt.Errorf("start LM Studio server: exit code %d: %s", res.ExitCode, res.failure())
		}
		// From here Stop owns the server even if it never answers.
		m.started = true

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}

		if err := m.probe(ctx); err == nil {
			logutil.Info("LM Studio server started", nil)
			return m.ensureModel(ctx)
		} else if attempt == m.attempts {
			return fmt.Errorf("LM Studio server unreachable after %d attempts: %w", m.attempts, err)
		}
		logutil.Warn("LM Studio server not ready yet", map[string]interface{}{"attempt": attempt})
	}
	return nil
}

func (m *Manager) ensureModel(ctx context.Context) error {
	res := m.lms(ctx, "ps")
	if res.ExitCode != 0 {
		return fmt.Errorf("list loaded models: exit code %d: %s", res.ExitCode, res.failure())
	}
	m.unloadDuplicates(ctx, res.Stdout)

	if strings.Contains(res.Stdout, m.model) {
		logutil.Info("model already loaded", map[string]interface{}{"model": m.model})
		return nil
	}

	logutil.Info("loading model", map[string]interface{}{"model": m.model})
	if res := m.lms(ctx, "load", m.model); res.ExitCode != 0 {
		return fmt.Errorf("load model %s: exit code %d: %s", m.model, res.ExitCode, res.failure())
	}
	return nil
}

// unloadDuplicates unloads extra instances, which lms lists as "<model>:<n>".
func (m *Manager) unloadDuplicates(ctx context.Context, ps string) {
	for _, line := range strings.Split(ps, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, m.model) || !strings.Contains(line, ":") {
			continue
		}
		if res := m.lms(ctx, "unload", line); res.ExitCode != 0 {
			logutil.Warn("failed to unload duplicate model", map[string]interface{}{"instance": line, "exit_code": res.ExitCode})
			continue
		}
		logutil.Info("unloaded duplicate model", map[string]interface{}{"instance": line})
	}
}

// UnloadModel unloads the configured model.
func (m *Manager) UnloadModel(ctx context.Context) error {
	if res := m.lms(ctx, "unload", m.model); res.ExitCode != 0 {
		return fmt.Errorf("unload model %s: exit code %d: %s", m.model, res.ExitCode, res.failure())
	}
	return nil
}

// Stop shuts the server down if Ensure started it.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started {
		return nil
	}
	if res := m.lms(ctx, "server", "stop"); res.ExitCode != 0 {
		return fmt.Errorf("stop LM Studio server: exit code %d: %s", res.ExitCode, res.failure())
	}
	m.started = false
	logutil.Info("LM Studio server stopped", nil)
	return nil
}

func (m *Manager) lms(ctx context.Context, args ...string) Result {
	return m.run.Run(ctx, m.binary, args...)
}
