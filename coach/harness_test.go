package coach_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/graph"
	"github.com/dshills/coachgraph/graph/model"
	"github.com/dshills/coachgraph/graph/store"
)

var fixedNow = time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// spyRecorder counts recorder calls and keeps the last recorded state.
type spyRecorder struct {
	mu          sync.Mutex
	turns       int
	moods       []string
	commitments []string
	reminders   []coach.Reminder
	failMood    bool
}

func (r *spyRecorder) RecordTurn(_ context.Context, _ coach.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns++
	return nil
}

func (r *spyRecorder) RecordMood(_ context.Context, st coach.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMood {
		return errors.New("database unavailable")
	}
	r.moods = append(r.moods, st.Facts.Mood)
	return nil
}

func (r *spyRecorder) RecordCommitment(_ context.Context, st coach.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitments = append(r.commitments, st.Facts.Commitment)
	return nil
}

func (r *spyRecorder) RecordReminder(_ context.Context, st coach.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reminders = append(r.reminders, *st.Facts.Reminder)
	return nil
}

type harness struct {
	engine   *graph.Engine[coach.State]
	runner   *coach.Runner
	model    *model.MockChatModel
	recorder *spyRecorder
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	policy  graph.RetryPolicy
	deps    coach.Deps
	metrics *graph.PrometheusMetrics
	table   []coach.StageConfig
}

func withPolicy(p graph.RetryPolicy) harnessOption {
	return func(c *harnessConfig) { c.policy = p }
}

func withScope(s coach.CapScope) harnessOption {
	return func(c *harnessConfig) { c.deps.CapScope = s }
}

// withCap sets the per-stage cap on stage and its retry variant.
func withCap(stage string, limit int) harnessOption {
	return func(c *harnessConfig) {
		for i, row := range c.table {
			if row.Name == stage || row.Name == coach.RetryName(stage) {
				c.table[i].Cap = limit
			}
		}
	}
}

func withMetrics(m *graph.PrometheusMetrics) harnessOption {
	return func(c *harnessConfig) { c.metrics = m }
}

func replies(texts ...string) []model.ChatOut {
	out := make([]model.ChatOut, len(texts))
	for i, t := range texts {
		out[i] = model.ChatOut{Text: t, Model: "mock"}
	}
	return out
}

func newHarness(t *testing.T, mock *model.MockChatModel, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{policy: graph.RetryPolicy{MaxAttempts: 3}, table: coach.DefaultTable()}
	for _, opt := range opts {
		opt(&cfg)
	}

	invOpts := []graph.InvokerOption{
		graph.WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	if cfg.metrics != nil {
		invOpts = append(invOpts, graph.WithInvokerMetrics(cfg.metrics))
	}
	inv, err := graph.NewInvoker(cfg.policy, invOpts...)
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}

	engine, err := graph.New(coach.Reduce, store.NewMemStore[coach.State](), graph.WithMaxSteps(16))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := &spyRecorder{}
	deps := cfg.deps
	deps.Model = mock
	deps.Invoker = inv
	deps.Recorder = rec
	deps.Now = clock
	deps.Metrics = cfg.metrics
	if err := coach.Build(engine, cfg.table, deps); err != nil {
		t.Fatalf("Build: %v", err)
	}

	return &harness{engine: engine, runner: coach.NewRunner(engine, nil), model: mock, recorder: rec}
}

func testIdentity() coach.Identity {
	return coach.Identity{UserID: "u-1", Name: "Asha", Now: fixedNow, Timezone: "UTC"}
}

// enter seeds a thread at stage and runs it to its first suspension.
func (h *harness) enter(t *testing.T, threadID, stage string, initial coach.State) coach.Reply {
	t.Helper()
	if initial.Identity == nil {
		id := testIdentity()
		initial.Identity = &id
	}
	if initial.Episode == 0 {
		initial.Episode = 1
	}
	initial.ThreadID = threadID
	if err := h.engine.Begin(context.Background(), threadID, initial, stage); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	reply, err := h.runner.Pending(context.Background(), threadID)
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	if !reply.AwaitingInput {
		t.Fatalf("thread at %s is not awaiting input", stage)
	}
	return reply
}

func (h *harness) say(t *testing.T, threadID, input string) coach.Reply {
	t.Helper()
	reply, err := h.runner.Step(context.Background(), threadID, input)
	if err != nil {
		t.Fatalf("Step(%q): %v", input, err)
	}
	return reply
}

func (h *harness) checkpoint(t *testing.T, threadID string) store.Checkpoint[coach.State] {
	t.Helper()
	cp, err := h.engine.Checkpoint(context.Background(), threadID)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	return cp
}
