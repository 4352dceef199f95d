package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/container"
	"github.com/bacalhau-project/sftpbox/pkg/display"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/table"
	"go.uber.org/zap"
)

const imageCheckAttempts = 3

var (
	ErrImageNotFound = errors.New("image not found")

	imageCheckBackoff = time.Second
)

// Result is the outcome of one scenario.
type Result struct {
	Scenario string
	Passed   bool
	Skipped  bool
	Duration time.Duration
	Err      error
	// Logs holds container logs of failed scenarios.
	Logs string
}

// Runner executes scenarios one after another.
type Runner struct {
	Engine         container.Engine
	Settings       Settings
	KeepFailed     bool
	SkipPrivileged bool
	// Out receives spinners and the result table. Nil discards.
	Out io.Writer

	newFixture func() (*Fixture, error)
}

type RunnerOption func(*Runner)

func WithKeepFailed(keep bool) RunnerOption {
	return func(r *Runner) {
		r.KeepFailed = keep
	}
}

func WithSkipPrivileged(skip bool) RunnerOption {
	return func(r *Runner) {
		r.SkipPrivileged = skip
	}
}

func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.Out = w
	}
}

// WithFixtureFactory replaces NewFixture.
func WithFixtureFactory(fn func() (*Fixture, error)) RunnerOption {
	return func(r *Runner) {
		r.newFixture = fn
	}
}

func NewRunner(engine container.Engine, settings Settings, opts ...RunnerOption) *Runner {
	r := &Runner{
		Engine:     engine,
		Settings:   settings.withDefaults(),
		newFixture: NewFixture,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}

// CheckImage fails when the configured image is not present locally.
// Transient engine errors are retried.
func (r *Runner) CheckImage(ctx context.Context) error {
	var exists bool
	err := container.RetryWithBackoff(ctx, imageCheckAttempts, imageCheckBackoff,
		func(int) (bool, error) {
			var err error
			exists, err = r.Engine.ImageExists(ctx, r.Settings.Image)
			return container.IsTransientError(err), err
		})
	if err != nil {
		return fmt.Errorf("failed to check image %s: %w", r.Settings.Image, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s (build it first)", ErrImageNotFound, r.Settings.Image)
	}
	return nil
}

// Run executes scenarios sequentially. A failing scenario does not stop
// the run.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) []Result {
	l := logger.FromContext(ctx)
	l.Infof("Running %d scenarios against %s (%s)", len(scenarios), r.Settings.Image, r.Engine.Name())

	results := make([]Result, 0, len(scenarios))
	for _, s := range scenarios {
		if ctx.Err() != nil {
			results = append(results, Result{Scenario: s.Name, Err: ctx.Err()})
			continue
		}
		if s.Privileged && r.SkipPrivileged {
			l.Infof("Skipping privileged scenario %s", s.Name)
			results = append(results, Result{Scenario: s.Name, Skipped: true})
			continue
		}
		results = append(results, r.runOne(ctx, s))
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, s Scenario) Result {
	ctx = logger.WithFields(ctx, zap.String("scenario", s.Name))
	l := logger.FromContext(ctx)
	start := time.Now()
	result := Result{Scenario: s.Name}

	spin := display.NewSpinner(s.Name, r.out())
	done := make(chan struct{})
	go display.Elapsed(spin, start, done)

	fixture, err := r.newFixture()
	if err != nil {
		close(done)
		result.Err = fmt.Errorf("fixture: %w", err)
		result.Duration = time.Since(start)
		display.Finish(spin, false, s.Name)
		return result
	}

	t := newT(r.Engine, r.Settings, fixture)
	result.Err = r.protect(ctx, s, t)
	result.Passed = result.Err == nil

	if !result.Passed {
		result.Logs = t.Logs(ctx)
		l.Errorf("Scenario %s failed: %v", s.Name, result.Err)
		l.Errorf("Container logs for %s:\n%s", s.Name, result.Logs)
	}
	// removal must not inherit a cancelled scenario context
	if err := t.teardown(context.WithoutCancel(ctx), !result.Passed && r.KeepFailed); err != nil {
		l.Warnf("Scenario %s: %v", s.Name, err)
	}

	close(done)
	result.Duration = time.Since(start)
	display.Finish(spin, result.Passed, fmt.Sprintf("%s (%s)", s.Name, result.Duration.Round(time.Millisecond)))
	return result
}

// protect runs the scenario and turns a panic into a failure.
func (r *Runner) protect(ctx context.Context, s Scenario, t *T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scenario panicked: %v", p)
		}
	}()
	return s.Run(ctx, t)
}

// Failed counts failed scenarios. Skipped ones do not count.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed && !r.Skipped {
			n++
		}
	}
	return n
}

// RenderResults prints results as a table.
func RenderResults(w io.Writer, results []Result) {
	rt := table.NewResultTable(w)
	for _, r := range results {
		rt.AddResult(table.ResultRow{
			Name:     r.Scenario,
			Passed:   r.Passed,
			Skipped:  r.Skipped,
			Duration: r.Duration,
			Err:      r.Err,
		})
	}
	rt.Render()
}
