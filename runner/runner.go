package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"jarvis/core"
	"jarvis/metrics"
)

// State is the stage the loop is currently executing.
type State int

const (
	Listening State = iota
	Transcribing
	Responding
	Synthesizing
	Speaking
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case Responding:
		return "responding"
	case Synthesizing:
		return "synthesizing"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

type Recorder interface {
	Record(ctx context.Context, path string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Responder appends the transcript and the reply to the conversation.
type Responder interface {
	Respond(ctx context.Context, conversation *core.Conversation, transcript string) (string, error)
}

type Synthesizer interface {
	SynthesizeToFile(ctx context.Context, text, path string) (time.Duration, error)
}

type Player interface {
	Play(ctx context.Context, path string) (time.Duration, error)
}

// TurnSink receives every conversation turn. Failures are logged and do not
// stop the loop.
type TurnSink interface {
	SaveTurn(ctx context.Context, sessionID string, turn core.Turn) error
}

// Options wires the loop together. Everything except Sink, Metrics, Output
// and Logger is required.
type Options struct {
	Recorder    Recorder
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
	Player      Player

	Status       *core.StatusLogger
	Conversation *core.Conversation
	ConvLog      *core.ConversationLog

	RecordingPath string
	ResponsePath  string
	AssistantName string
	SessionID     string

	Sink    TurnSink
	Metrics *metrics.Recorder
	Output  io.Writer
	Logger  *core.Logger
}

// Exchange is the outcome of one loop iteration.
type Exchange struct {
	Transcript    string
	Response      string
	AudioDuration time.Duration
}

// Runner drives Listening → Transcribing → Responding → Synthesizing →
// Speaking on a single goroutine.
type Runner struct {
	opts  Options
	state State
	saved int
	now   func() time.Time
}

func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.Recorder == nil:
		return nil, errors.New("runner: recorder is required")
	case opts.Transcriber == nil:
		return nil, errors.New("runner: transcriber is required")
	case opts.Responder == nil:
		return nil, errors.New("runner: responder is required")
	case opts.Synthesizer == nil:
		return nil, errors.New("runner: synthesizer is required")
	case opts.Player == nil:
		return nil, errors.New("runner: player is required")
	case opts.Status == nil:
		return nil, errors.New("runner: status logger is required")
	case opts.Conversation == nil:
		return nil, errors.New("runner: conversation is required")
	case opts.ConvLog == nil:
		return nil, errors.New("runner: conversation log is required")
	case opts.RecordingPath == "" || opts.ResponsePath == "":
		return nil, errors.New("runner: recording and response paths are required")
	}
	if opts.AssistantName == "" {
		opts.AssistantName = "JARVIS"
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = core.GetLogger()
	}
	opts.Logger = opts.Logger.With(map[string]interface{}{"component": "runner"})

	return &Runner{opts: opts, state: Listening, now: time.Now}, nil
}

func (r *Runner) State() State {
	return r.state
}

// Run repeats Step until a stage fails. Cancelling ctx stops the loop and
// returns nil.
func (r *Runner) Run(ctx context.Context) error {
	r.opts.Logger.Info("loop started",
		"status_file", r.opts.Status.Path(),
		"conversation_log", r.opts.ConvLog.Path(),
	)
	r.syncTurns(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := r.Step(ctx); err != nil {
			if ctx.Err() != nil {
				r.opts.Logger.Info("loop stopped", "state", r.state.String())
				return nil
			}
			return err
		}
	}
}

// Step runs one full iteration. The first failing stage aborts it and its
// error is returned.
func (r *Runner) Step(ctx context.Context) (Exchange, error) {
	var ex Exchange
	defer r.flushMetrics()

	// Listening
	r.state = Listening
	if err := r.status("Listening..."); err != nil {
		return ex, err
	}
	if err := r.timed(Listening, func() error {
		return r.opts.Recorder.Record(ctx, r.opts.RecordingPath)
	}); err != nil {
		return ex, fmt.Errorf("record: %w", err)
	}
	if err := r.status("Done listening"); err != nil {
		return ex, err
	}

	// Transcribing
	r.state = Transcribing
	start := r.now()
	if err := r.timed(Transcribing, func() (err error) {
		ex.Transcript, err = r.opts.Transcriber.Transcribe(ctx, r.opts.RecordingPath)
		return err
	}); err != nil {
		return ex, fmt.Errorf("transcribe: %w", err)
	}
	if err := r.opts.ConvLog.Append(ex.Transcript); err != nil {
		return ex, err
	}
	if err := r.opts.Status.Logf("Finished transcribing in %.2f seconds.", r.since(start)); err != nil {
		return ex, err
	}

	// Responding
	r.state = Responding
	start = r.now()
	err := r.timed(Responding, func() (err error) {
		ex.Response, err = r.opts.Responder.Respond(ctx, r.opts.Conversation, ex.Transcript)
		return err
	})
	r.syncTurns(ctx)
	if err != nil {
		return ex, fmt.Errorf("respond: %w", err)
	}
	r.opts.Logger.Debug("conversation updated",
		"turns", r.opts.Conversation.Len(),
		"context", r.opts.Conversation.String(),
	)
	if err := r.opts.Status.Logf("Finished generating response in %.2f seconds.", r.since(start)); err != nil {
		return ex, err
	}

	// Synthesizing
	r.state = Synthesizing
	start = r.now()
	if err := r.timed(Synthesizing, func() (err error) {
		ex.AudioDuration, err = r.opts.Synthesizer.SynthesizeToFile(ctx, ex.Response, r.opts.ResponsePath)
		return err
	}); err != nil {
		return ex, fmt.Errorf("synthesize: %w", err)
	}
	if err := r.opts.Status.Logf("Finished generating audio in %.2f seconds.", r.since(start)); err != nil {
		return ex, err
	}

	// Speaking
	r.state = Speaking
	if err := r.status("Speaking..."); err != nil {
		return ex, err
	}
	if err := r.opts.ConvLog.Append(ex.Response); err != nil {
		return ex, err
	}
	if err := r.timed(Speaking, func() error {
		played, err := r.opts.Player.Play(ctx, r.opts.ResponsePath)
		if err == nil && played > 0 {
			ex.AudioDuration = played
		}
		return err
	}); err != nil {
		return ex, fmt.Errorf("play: %w", err)
	}

	fmt.Fprintf(r.opts.Output, "\n --- USER: %s\n --- %s: %s\n\n", ex.Transcript, r.opts.AssistantName, ex.Response)
	r.opts.Metrics.ExchangeCompleted(r.now())
	r.state = Listening
	return ex, nil
}

func (r *Runner) status(line string) error {
	return r.opts.Status.Log(line)
}

func (r *Runner) since(start time.Time) float64 {
	return r.now().Sub(start).Seconds()
}

// timed runs fn and records its duration under the stage label.
func (r *Runner) timed(stage State, fn func() error) error {
	start := r.now()
	err := fn()
	if err != nil {
		r.opts.Metrics.StageFailed(stage.String())
		return err
	}
	r.opts.Metrics.ObserveStage(stage.String(), r.now().Sub(start))
	return nil
}

// syncTurns forwards turns appended since the last call to the sink.
func (r *Runner) syncTurns(ctx context.Context) {
	turns := r.opts.Conversation.Turns()
	if r.saved >= len(turns) {
		return
	}
	for _, t := range turns[r.saved:] {
		r.opts.Metrics.TurnAppended(t.Role)
		if r.opts.Sink == nil {
			continue
		}
		if err := r.opts.Sink.SaveTurn(ctx, r.opts.SessionID, t); err != nil {
			r.opts.Logger.Warn("failed to mirror turn", "role", string(t.Role), "error", err)
		}
	}
	r.saved = len(turns)
}

func (r *Runner) flushMetrics() {
	if err := r.opts.Metrics.Flush(); err != nil {
		r.opts.Logger.Warn("failed to flush metrics", "error", err)
	}
}
