// Package pipeline orchestrates one digest run: aggregate the ranking,
// build the generation request, generate the summary and deliver it in
// size-bounded chunks. Run-level failures abort cleanly; item-level and
// chunk-level failures are isolated by the layers below.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"narou-digest/digest"
	"narou-digest/generation"
	"narou-digest/storage"
	"narou-digest/webhook"
)

// State is the runner's position in the pipeline.
type State string

const (
	StateIdle            State = "idle"
	StateFetchingDigests State = "fetching_digests"
	StateBuildingRequest State = "building_request"
	StateGenerating      State = "generating"
	StateDelivering      State = "delivering"
	StateDone            State = "done"
	StateAborted         State = "aborted"
)

const defaultChunkPace = time.Second

// ErrNoData marks a run aborted because the ranking produced no digests.
var ErrNoData = errors.New("no ranking data")

// Aggregator produces the digest batch for one run.
type Aggregator interface {
	Aggregate(ctx context.Context, period, category string, size int) []digest.Novel
}

// Generator owns the conversation log and performs the generation call.
type Generator interface {
	SetLog(messages []generation.Message)
	InsertSystemPrompt()
	Generate(ctx context.Context) (*generation.Result, error)
}

// Deliverer posts one chunk per call.
type Deliverer interface {
	Post(ctx context.Context, content string) (*webhook.Outcome, error)
}

// Recorder writes the run's file artifacts. Optional.
type Recorder interface {
	WriteRun(raw []byte, outcomes []webhook.Outcome) error
}

// RunStore persists run history rows. Optional.
type RunStore interface {
	SaveRun(r *storage.Run) (int64, error)
	SaveDelivery(d *storage.Delivery) error
}

// Config holds one run's parameters.
type Config struct {
	Period   string
	Category string
	Size     int
	Model    string
}

// Runner drives the pipeline through its states.
type Runner struct {
	aggregator Aggregator
	generator  Generator
	channel    Deliverer
	recorder   Recorder
	store      RunStore
	cfg        Config

	state State
	pace  time.Duration
}

// NewRunner creates a Runner. recorder and store may be nil; the run
// then leaves no durable record.
func NewRunner(aggregator Aggregator, generator Generator, channel Deliverer, recorder Recorder, store RunStore, cfg Config) *Runner {
	return &Runner{
		aggregator: aggregator,
		generator:  generator,
		channel:    channel,
		recorder:   recorder,
		store:      store,
		cfg:        cfg,
		state:      StateIdle,
		pace:       defaultChunkPace,
	}
}

// State returns the runner's current state.
func (r *Runner) State() State {
	return r.state
}

func (r *Runner) transition(next State) {
	slog.Debug("pipeline transition", "from", r.state, "to", next)
	r.state = next
}

// Run executes one complete pipeline cycle. It returns nil when the run
// reaches Done and a wrapped error when it aborts; aborting is a clean
// exit, never a panic, and no delivery happens after a hard failure.
func (r *Runner) Run(ctx context.Context) error {
	startedAt := time.Now().Unix()

	r.transition(StateFetchingDigests)
	digests := r.aggregator.Aggregate(ctx, r.cfg.Period, r.cfg.Category, r.cfg.Size)
	if len(digests) == 0 {
		return r.abort(startedAt, nil, "no data", ErrNoData)
	}
	slog.Info("digests aggregated", "count", len(digests))

	r.transition(StateBuildingRequest)
	messages := make([]generation.Message, 0, len(digests))
	for _, d := range digests {
		content, err := json.Marshal(d)
		if err != nil {
			return r.abort(startedAt, nil, "serializing digest", fmt.Errorf("serializing digest %q: %w", d.Title, err))
		}
		messages = append(messages, generation.Message{Role: generation.RoleUser, Content: string(content)})
	}
	r.generator.SetLog(messages)
	// One system prompt per run, at the head of the log.
	r.generator.InsertSystemPrompt()

	r.transition(StateGenerating)
	result, err := r.generator.Generate(ctx)
	if err != nil {
		reason := "generation failed"
		if errors.Is(err, generation.ErrNoText) {
			reason = "generation returned no text"
		}
		return r.abort(startedAt, result, reason, err)
	}
	if !result.Complete() {
		slog.Warn("generation incomplete, delivering available text", "finish_reason", result.FinishReason)
	}

	r.transition(StateDelivering)
	chunks := Chunk(result.Text, webhook.MaxContentLength)
	outcomes := make([]webhook.Outcome, 0, len(chunks))
	for i, chunk := range chunks {
		if i > 0 && r.pace > 0 {
			time.Sleep(r.pace)
		}

		outcome, err := r.channel.Post(ctx, chunk)
		if err != nil {
			slog.Warn("chunk delivery failed", "chunk", i, "error", err)
			outcomes = append(outcomes, webhook.Outcome{StatusCode: 0, Body: err.Error()})
			continue
		}
		if !outcome.OK() {
			slog.Warn("chunk delivery rejected", "chunk", i, "status", outcome.StatusCode, "body", outcome.Body)
		} else {
			slog.Info("chunk delivered", "chunk", i, "status", outcome.StatusCode)
		}
		outcomes = append(outcomes, *outcome)
	}

	r.transition(StateDone)
	r.record(&storage.Run{
		StartedAt:    startedAt,
		FinishedAt:   time.Now().Unix(),
		State:        storage.RunDone,
		Model:        r.cfg.Model,
		FinishReason: result.FinishReason,
		DigestCount:  len(digests),
		RawResponse:  string(result.Raw),
	}, result.Raw, outcomes)

	slog.Info("pipeline run complete", "digests", len(digests), "chunks", len(chunks))
	return nil
}

// abort terminates the run cleanly, persisting whatever partial data
// exists.
func (r *Runner) abort(startedAt int64, result *generation.Result, reason string, err error) error {
	r.transition(StateAborted)
	slog.Error("pipeline run aborted", "reason", reason, "error", err)

	run := &storage.Run{
		StartedAt:  startedAt,
		FinishedAt: time.Now().Unix(),
		State:      storage.RunAborted,
		Reason:     reason,
		Model:      r.cfg.Model,
	}
	var raw []byte
	if result != nil {
		run.FinishReason = result.FinishReason
		run.RawResponse = string(result.Raw)
		raw = result.Raw
	}
	r.record(run, raw, nil)

	return fmt.Errorf("pipeline aborted: %s: %w", reason, err)
}

// record persists the run row, its delivery outcomes and the file
// artifacts. Persistence failures are logged, not propagated; the run's
// own outcome stands.
func (r *Runner) record(run *storage.Run, raw []byte, outcomes []webhook.Outcome) {
	if r.store != nil {
		runID, err := r.store.SaveRun(run)
		if err != nil {
			slog.Error("failed to save run record", "error", err)
		} else {
			for seq, o := range outcomes {
				if err := r.store.SaveDelivery(&storage.Delivery{RunID: runID, Seq: seq, StatusCode: o.StatusCode, Body: o.Body}); err != nil {
					slog.Error("failed to save delivery record", "seq", seq, "error", err)
				}
			}
		}
	}

	if r.recorder != nil && raw != nil {
		if err := r.recorder.WriteRun(raw, outcomes); err != nil {
			slog.Error("failed to write run artifacts", "error", err)
		}
	}
}

// Chunk splits text into fixed-width rune slices in original order. The
// split is not content-aware; downstream delivery depends on exact
// width boundaries.
func Chunk(text string, width int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+width-1)/width)
	for start := 0; start < len(runes); start += width {
		end := start + width
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
