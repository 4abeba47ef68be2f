package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/coachgraph/graph/emit"
	"github.com/dshills/coachgraph/graph/store"
	"go.uber.org/zap"
)

// Engine runs conversation threads one external turn at a time.
//
// A thread is a sequence of node executions that pauses whenever a node
// suspends to wait for input. Each call to Step:
//   - Takes the thread lock
//   - Loads the thread checkpoint (or starts at the start node)
//   - Re-enters the suspended node with the caller's input
//   - Runs nodes, merging deltas with the reducer and routing between them,
//     until a node suspends again or one halts the thread
//   - Saves a step record per execution and the checkpoint before returning
//
// A failed node commits nothing: the checkpoint stays as it was before the
// Step, so the caller can retry the same input.
//
// Type parameter S is the state type shared across the thread.
//
// Example:
//
//	st := store.NewMemStore[State]()
//	engine, err := graph.New(reduce, st, graph.WithMaxSteps(32))
//	engine.Add("ask", askNode)
//	engine.StartAt("ask")
//
//	res, err := engine.Step(ctx, "thread-1", nil)    // runs to the first suspension
//	res, err = engine.Step(ctx, "thread-1", &answer) // resumes with the answer
type Engine[S any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates deterministically
	reducer Reducer[S]

	// nodes maps node IDs to Node implementations
	nodes map[string]Node[S]

	// edges defines conditional transitions between nodes
	edges []Edge[S]

	// startNode is the entry point for threads without a checkpoint
	startNode string

	// store persists checkpoints and step history
	store store.Store[S]

	opts Options
}

// StepResult describes where a thread stands after one Step.
type StepResult[S any] struct {
	// AwaitingInput is true when the thread is suspended.
	AwaitingInput bool

	// Prompt is the suspended node's prompt descriptor.
	Prompt string

	// Halted is true once a node ended the thread.
	Halted bool

	// Step is the number of node executions committed so far.
	Step int

	// Node is the node the thread is waiting in, or the one that halted it.
	Node string

	// InputIgnored is true when input arrived for a thread that was not
	// suspended. The turn then ran as if no input was given.
	InputIgnored bool

	// State is the committed state.
	State S
}

// New creates a new Engine.
//
// Parameters:
//   - reducer: Function to merge partial state updates (required)
//   - st: Persistence backend for checkpoints (required)
//   - opts: Functional options
//
// Missing reducer or store is reported by Step, not here, so that an engine
// can be assembled before its collaborators are ready.
func New[S any](reducer Reducer[S], st store.Store[S], opts ...Option) (*Engine[S], error) {
	cfg := engineConfig{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.opts.Logger == nil {
		cfg.opts.Logger = zap.NewNop()
	}
	if cfg.opts.Locker == nil {
		cfg.opts.Locker = NewLocalLocker()
	}
	if cfg.opts.Emitter == nil {
		cfg.opts.Emitter = emit.NewNullEmitter()
	}
	if cfg.opts.LockTTL == 0 {
		cfg.opts.LockTTL = DefaultLockTTL
	}

	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		edges:   make([]Edge[S], 0),
		store:   st,
		opts:    cfg.opts,
	}, nil
}

// Add registers a node.
//
// Returns error if nodeID is empty, node is nil or the ID is already taken.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the node a thread without a checkpoint starts at.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes.
//
// Edges are consulted only when a node returns neither Stop() nor Goto().
// The first matching edge in registration order wins; a nil predicate always
// matches. Node existence is checked when the edge is taken.
//
// Example:
//
//	engine.Connect("mood_check", "focus", flagSet("mood_check"))
//	engine.Connect("mood_check", "mood_check_retry", nil)
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Logger returns the engine logger.
func (e *Engine[S]) Logger() *zap.Logger {
	return e.opts.Logger
}

func (e *Engine[S]) validate() error {
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Step)", Code: "NO_START_NODE"}
	}
	return nil
}

func (e *Engine[S]) lock(ctx context.Context, threadID string) (UnlockFunc, error) {
	unlock, err := e.opts.Locker.Lock(ctx, threadID, e.opts.LockTTL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &EngineError{Message: "failed to lock thread: " + err.Error(), Code: "STORE_ERROR"}
	}
	return unlock, nil
}

func (e *Engine[S]) release(threadID string, unlock UnlockFunc) {
	// The caller's context may already be cancelled; the lock must still go.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := unlock(ctx); err != nil {
		e.opts.Logger.Warn("failed to release thread lock",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
	}
}

// Begin seeds a thread with its initial state and entry node without
// executing anything. The first Step then runs from entry. An empty entry
// means the start node.
//
// Returns an EngineError with code THREAD_EXISTS if the thread already has a
// checkpoint.
func (e *Engine[S]) Begin(ctx context.Context, threadID string, initial S, entry string) error {
	if err := e.validate(); err != nil {
		return err
	}
	if threadID == "" {
		return &EngineError{Message: "thread ID cannot be empty"}
	}
	if entry == "" {
		entry = e.startNode
	}

	e.mu.RLock()
	_, exists := e.nodes[entry]
	e.mu.RUnlock()
	if !exists {
		return &EngineError{Message: "entry node does not exist: " + entry, Code: "NODE_NOT_FOUND"}
	}

	unlock, err := e.lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer e.release(threadID, unlock)

	if _, err := e.store.LoadCheckpoint(ctx, threadID); err == nil {
		return &EngineError{Message: "thread already started: " + threadID, Code: "THREAD_EXISTS"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR"}
	}

	cp := store.Checkpoint[S]{
		ThreadID: threadID,
		State:    initial,
		Cursor:   store.Cursor{Node: entry},
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR"}
	}

	e.opts.Emitter.Emit(emit.Event{
		ThreadID: threadID,
		NodeID:   entry,
		Msg:      "thread started",
	})
	return nil
}

// Step runs one external turn of a thread.
//
// If the thread is suspended, input is delivered to the suspended node at
// its suspension point. A nil input on a suspended thread returns the
// pending prompt without executing anything. Input on a thread that is not
// suspended is ignored and reported in StepResult.InputIgnored.
//
// Returns:
//   - The thread position after the turn
//   - An EngineError matching ErrHalted if the thread was already halted
//   - The failing node's error, with the checkpoint unchanged
func (e *Engine[S]) Step(ctx context.Context, threadID string, input *string) (StepResult[S], error) {
	if err := e.validate(); err != nil {
		return StepResult[S]{}, err
	}
	if threadID == "" {
		return StepResult[S]{}, &EngineError{Message: "thread ID cannot be empty"}
	}

	unlock, err := e.lock(ctx, threadID)
	if err != nil {
		return StepResult[S]{}, err
	}
	defer e.release(threadID, unlock)

	if e.opts.Metrics != nil {
		e.opts.Metrics.stepStarted()
		defer e.opts.Metrics.stepFinished()
	}

	cp, err := e.store.LoadCheckpoint(ctx, threadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.mu.RLock()
		cp = store.Checkpoint[S]{ThreadID: threadID, Cursor: store.Cursor{Node: e.startNode}}
		e.mu.RUnlock()
	case err != nil:
		return StepResult[S]{}, &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR"}
	}

	state, err := deepCopy(cp.State)
	if err != nil {
		return StepResult[S]{}, &EngineError{Message: "failed to copy checkpoint state: " + err.Error(), Code: "STORE_ERROR"}
	}

	if cp.Halted {
		return StepResult[S]{Halted: true, Step: cp.Step, Node: cp.Cursor.Node, State: state},
			&EngineError{Message: "thread " + threadID + " is halted", Code: "RUN_HALTED"}
	}

	if cp.Cursor.Awaiting && input == nil {
		return StepResult[S]{
			AwaitingInput: true,
			Prompt:        cp.Cursor.Prompt,
			Step:          cp.Step,
			Node:          cp.Cursor.Node,
			State:         state,
		}, nil
	}

	var resume *resumption
	ignored := false
	if cp.Cursor.Awaiting {
		resume = &resumption{key: cp.Cursor.Key, input: *input}
	} else if input != nil {
		ignored = true
		e.opts.Logger.Warn("input ignored, thread is not suspended",
			zap.String("thread_id", threadID),
			zap.String("node_id", cp.Cursor.Node),
		)
	}

	res, err := e.run(ctx, cp, state, resume)
	res.InputIgnored = ignored
	return res, err
}

// run executes nodes from cp.Cursor.Node until a suspension or a halt.
func (e *Engine[S]) run(ctx context.Context, cp store.Checkpoint[S], state S, resume *resumption) (StepResult[S], error) {
	threadID := cp.ThreadID
	current := cp.Cursor.Node
	step := cp.Step
	ctx = withThreadID(ctx, threadID)
	logger := e.opts.Logger.With(zap.String("thread_id", threadID))

	for executed := 1; ; executed++ {
		if e.opts.MaxSteps > 0 && executed > e.opts.MaxSteps {
			return StepResult[S]{}, &EngineError{
				Message: "thread exceeded MaxSteps limit in one turn",
				Code:    "MAX_STEPS_EXCEEDED",
			}
		}

		if err := ctx.Err(); err != nil {
			return StepResult[S]{}, err
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[current]
		e.mu.RUnlock()
		if !exists {
			return StepResult[S]{}, &EngineError{
				Message: "node not found during execution: " + current,
				Code:    "NODE_NOT_FOUND",
			}
		}

		step++
		nodeCtx := ctx
		if resume != nil {
			nodeCtx = withResumption(ctx, resume)
		}

		start := time.Now()
		result := nodeImpl.Run(nodeCtx, state)
		latency := time.Since(start)

		if resume != nil {
			if !resume.wasConsumed() {
				logger.Warn("resume input was not consumed",
					zap.String("node_id", current),
					zap.String("key", resume.key),
				)
			}
			// Input belongs to the first node of the turn only.
			resume = nil
		}

		if result.Err != nil {
			if intr, ok := GetInterrupt(result.Err); ok {
				return e.suspend(ctx, threadID, step, current, e.reducer(state, result.Delta), intr, latency)
			}

			e.recordLatency(current, latency, "error")
			e.opts.Emitter.Emit(emit.Event{
				ThreadID: threadID,
				Step:     step,
				NodeID:   current,
				Msg:      "node failed",
				Meta:     map[string]interface{}{"error": result.Err.Error()},
			})
			logger.Error("node failed",
				zap.String("node_id", current),
				zap.Int("step", step),
				zap.Error(result.Err),
			)
			return StepResult[S]{}, result.Err
		}

		state = e.reducer(state, result.Delta)
		if err := e.store.SaveStep(ctx, threadID, step, current, state); err != nil {
			return StepResult[S]{}, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR"}
		}
		e.recordLatency(current, latency, "success")
		e.opts.Emitter.Emit(emit.Event{
			ThreadID: threadID,
			Step:     step,
			NodeID:   current,
			Msg:      "node completed",
			Meta:     map[string]interface{}{"duration_ms": latency.Milliseconds()},
		})

		if result.Route.Terminal {
			halted := store.Checkpoint[S]{
				ThreadID: threadID,
				Step:     step,
				State:    state,
				Cursor:   store.Cursor{Node: current},
				Halted:   true,
			}
			if err := e.store.SaveCheckpoint(ctx, halted); err != nil {
				return StepResult[S]{}, &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR"}
			}
			e.opts.Emitter.Emit(emit.Event{ThreadID: threadID, Step: step, NodeID: current, Msg: "thread halted"})
			logger.Info("thread halted", zap.String("node_id", current), zap.Int("step", step))
			return StepResult[S]{Halted: true, Step: step, Node: current, State: state}, nil
		}

		next := result.Route.To
		if next == "" {
			next = e.evaluateEdges(current, state)
		}
		if next == "" {
			return StepResult[S]{}, &EngineError{
				Message: "no valid route from node: " + current,
				Code:    "NO_ROUTE",
			}
		}
		current = next
	}
}

func (e *Engine[S]) suspend(
	ctx context.Context,
	threadID string,
	step int,
	nodeID string,
	state S,
	intr *Interrupt,
	latency time.Duration,
) (StepResult[S], error) {
	intr.NodeID = nodeID
	intr.Step = step

	if err := e.store.SaveStep(ctx, threadID, step, nodeID, state); err != nil {
		return StepResult[S]{}, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR"}
	}

	cp := store.Checkpoint[S]{
		ThreadID: threadID,
		Step:     step,
		State:    state,
		Cursor: store.Cursor{
			Node:     nodeID,
			Key:      intr.Key,
			Prompt:   intr.Prompt,
			Awaiting: true,
			Since:    intr.Timestamp,
		},
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return StepResult[S]{}, &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR"}
	}

	e.recordLatency(nodeID, latency, "suspended")
	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementSuspensions(nodeID)
	}
	e.opts.Emitter.Emit(emit.Event{
		ThreadID: threadID,
		Step:     step,
		NodeID:   nodeID,
		Msg:      "node suspended",
		Meta:     map[string]interface{}{"key": intr.Key},
	})

	return StepResult[S]{
		AwaitingInput: true,
		Prompt:        intr.Prompt,
		Step:          step,
		Node:          nodeID,
		State:         state,
	}, nil
}

func (e *Engine[S]) recordLatency(nodeID string, latency time.Duration, status string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordStageLatency(nodeID, latency, status)
	}
}

// evaluateEdges finds the first matching edge leaving fromNode.
// Returns empty string if no edges match.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// Checkpoint returns the thread's committed checkpoint.
func (e *Engine[S]) Checkpoint(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	if e.store == nil {
		return store.Checkpoint[S]{}, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	return e.store.LoadCheckpoint(ctx, threadID)
}

type threadIDKey struct{}

func withThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey{}, threadID)
}

// ThreadIDFromContext returns the ID of the thread a node is running in.
func ThreadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey{}).(string)
	return id
}
