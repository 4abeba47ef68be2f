package coach

import (
	"context"
	"time"

	"github.com/dshills/coachgraph/graph"
	"github.com/dshills/coachgraph/graph/model"
	"github.com/dshills/coachgraph/knowledge"
	"go.uber.org/zap"
)

// DefaultLoopCap is how many consecutive unresolved signals a logical stage
// tolerates before the next one is forced to resolve.
const DefaultLoopCap = 4

// DefaultWindow is how many recent turns a stage shows the model.
const DefaultWindow = 12

// inputKey is the suspension point of every input stage.
const inputKey = "reply"

// CapScope selects how long loop counters live.
type CapScope int

const (
	// PerEpisode resets a counter when its stage resolves and when a new
	// episode starts.
	PerEpisode CapScope = iota

	// PerRun never resets counters, so they accumulate across episodes.
	PerRun
)

func (s CapScope) String() string {
	if s == PerRun {
		return "run"
	}
	return "episode"
}

// ParseCapScope accepts "episode" or "run". Anything else is PerEpisode.
func ParseCapScope(s string) CapScope {
	if s == "run" {
		return PerRun
	}
	return PerEpisode
}

// StageConfig is one row of the stage table.
type StageConfig struct {
	// Name is the node id.
	Name string

	// Logical is shared by a stage and its retry variant. It keys the loop
	// counter. Empty means Name.
	Logical string

	// Prompt is the template id.
	Prompt string

	// Input makes the stage suspend for the user's reply before calling the
	// model.
	Input bool

	Outcome OutcomeKind
	Fact    Fact

	// Knowledge adds the knowledge texts to the prompt.
	Knowledge bool

	// Resolved is the next stage on a resolved signal.
	Resolved string

	// Retry is the stage taken on an unresolved signal. Empty for stages
	// that always resolve.
	Retry string

	// Cap overrides the loop cap for this stage. Zero uses the global cap.
	Cap int

	// FallbackToInput records the user's own words as the fact when the
	// model did not extract one.
	FallbackToInput bool

	// Restart is where a new episode begins. Only used by closing stages.
	Restart string
}

func (c StageConfig) logical() string {
	if c.Logical != "" {
		return c.Logical
	}
	return c.Name
}

// Deps are the collaborators every stage shares.
type Deps struct {
	Model     model.ChatModel
	Invoker   *graph.Invoker
	Prompts   *Prompts
	Recorder  Recorder
	Knowledge knowledge.Loader
	Logger    *zap.Logger
	Metrics   *graph.PrometheusMetrics

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	CapScope CapScope

	// LoopCap is the global cap. Zero means DefaultLoopCap.
	LoopCap int

	// Window bounds the turns sent to the model. Zero means DefaultWindow.
	Window int
}

func (d Deps) withDefaults() Deps {
	if d.Recorder == nil {
		d.Recorder = NopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LoopCap <= 0 {
		d.LoopCap = DefaultLoopCap
	}
	if d.Window <= 0 {
		d.Window = DefaultWindow
	}
	return d
}

// Stage is the executor of one StageConfig row.
type Stage struct {
	cfg  StageConfig
	deps Deps
}

// NewStage creates a stage.
func NewStage(cfg StageConfig, deps Deps) *Stage {
	return &Stage{cfg: cfg, deps: deps.withDefaults()}
}

// Config returns the stage's row.
func (s *Stage) Config() StageConfig {
	return s.cfg
}

func (s *Stage) loopCap() int {
	if s.cfg.Cap > 0 {
		return s.cfg.Cap
	}
	return s.deps.LoopCap
}

// Run executes the stage.
//
// All state changes are returned in the delta and happen only after the
// model reply was accepted, so a failed or retried turn leaves no trace.
func (s *Stage) Run(ctx context.Context, st State) graph.NodeResult[State] {
	cfg := s.cfg
	logger := s.deps.Logger.With(zap.String("thread_id", st.ThreadID), zap.String("node_id", cfg.Name))

	var delta State
	var input string
	if cfg.Input {
		raw, err := graph.Suspend(ctx, inputKey, st.Messages.LastAssistant())
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		input = NormalizeInput(raw)
		delta.Messages = NewMessageLog(Turn{Role: Human, Content: input, At: s.deps.Now()})
	}
	view := Reduce(st, delta)

	out, err := s.ask(ctx, view)
	if err != nil {
		return graph.NodeResult[State]{Err: &graph.NodeError{
			Message: "stage failed",
			Code:    "STAGE_FAILED",
			NodeID:  cfg.Name,
			Cause:   err,
		}}
	}
	delta.Messages = delta.Messages.Append(Turn{Role: Assistant, Content: out.Reply(), At: s.deps.Now()})

	resolved := s.applyCap(out.Resolved(), st, &delta, logger)
	set := s.applyFact(out, resolved, input, st, &delta)
	delta.Flags = map[string]bool{cfg.Name: resolved}
	route := s.route(out, st, &delta)

	after := Reduce(st, delta)
	if set != NoFact {
		if err := record(ctx, s.deps.Recorder, set, after); err != nil {
			logger.Warn("recorder failed", zap.String("fact", string(set)), zap.Error(err))
		}
	}
	if err := s.deps.Recorder.RecordTurn(ctx, after); err != nil {
		logger.Warn("recorder failed", zap.String("fact", "transcript"), zap.Error(err))
	}

	return graph.NodeResult[State]{Delta: delta, Route: route}
}

// ask builds the request and invokes the model until a reply is accepted.
func (s *Stage) ask(ctx context.Context, st State) (Outcome, error) {
	cfg := s.cfg

	var identity Identity
	if st.Identity != nil {
		identity = *st.Identity
	}
	data := PromptData{
		Stage:    cfg.Name,
		Retry:    cfg.logical() != cfg.Name,
		Identity: identity,
		Facts:    st.Facts,
	}
	if !identity.Now.IsZero() {
		data.Now = identity.Now.Format("2006-01-02 15:04:05")
	}

	var format *model.ResponseFormat
	if sh, ok := ShapeFor(cfg.Outcome, cfg.Fact); ok {
		data.Format = sh.Describe()
		format = &model.ResponseFormat{Name: sh.Name, Schema: sh.Schema()}
	}
	if cfg.Knowledge && s.deps.Knowledge != nil {
		texts, err := s.deps.Knowledge.Load(ctx)
		if err != nil {
			return nil, err
		}
		data.Knowledge = texts
	}

	system, err := s.deps.Prompts.Render(cfg.Prompt, data)
	if err != nil {
		return nil, err
	}
	messages := []model.Message{{Role: model.RoleSystem, Content: system}}
	for _, turn := range st.Messages.Recent(s.deps.Window) {
		role := model.RoleUser
		if turn.Role == Assistant {
			role = model.RoleAssistant
		}
		messages = append(messages, model.Message{Role: role, Content: turn.Content})
	}

	call := func(ctx context.Context) (string, error) {
		out, err := s.deps.Model.Chat(ctx, messages, format)
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}

	tz := identity.Timezone
	return graph.Invoke(ctx, s.deps.Invoker, cfg.Name, call, OutcomeValidator(cfg.Outcome, cfg.Fact, s.deps.Now, tz))
}

// applyCap returns the effective signal and puts the counter update into
// delta.
func (s *Stage) applyCap(resolved bool, st State, delta *State, logger *zap.Logger) bool {
	if s.cfg.Retry == "" {
		return resolved
	}
	key := s.cfg.logical()
	loops := st.Loops[key]

	if !resolved {
		if loops < s.loopCap() {
			delta.Loops = map[string]int{key: loops + 1}
			return false
		}
		logger.Info("loop cap reached, forcing resolution",
			zap.String("stage", key),
			zap.Int("loops", loops),
			zap.Int("cap", s.loopCap()),
		)
		if s.deps.Metrics != nil {
			s.deps.Metrics.IncrementForced(key)
		}
	}

	if s.deps.CapScope == PerEpisode && loops != 0 {
		delta.Loops = map[string]int{key: 0}
	}
	return true
}

// applyFact sets the stage's fact if it is still unset and returns it, or
// NoFact when nothing was set.
func (s *Stage) applyFact(out Outcome, resolved bool, input string, st State, delta *State) Fact {
	fact := s.cfg.Fact
	if !resolved || fact == NoFact || st.Facts.Has(fact) {
		return NoFact
	}

	if fact == FactReminder {
		if o, ok := out.(ReminderOutcome); ok && o.Reminder != nil {
			r := *o.Reminder
			delta.Facts.Reminder = &r
			return fact
		}
		return NoFact
	}

	var value string
	switch o := out.(type) {
	case MoodOutcome:
		value = o.Mood
	case CaptureOutcome:
		value = o.Value
	case CommitmentOutcome:
		value = o.Commitment
	}
	if value == "" && s.cfg.FallbackToInput {
		value = input
	}
	if value == "" {
		return NoFact
	}
	delta.Facts = delta.Facts.with(fact, value)
	return fact
}

// route picks the next hop. Stages with a retry variant leave it to the
// edges registered by Build.
func (s *Stage) route(out Outcome, st State, delta *State) graph.Next {
	closing, ok := out.(ClosingOutcome)
	switch {
	case ok && closing.End:
		delta.Halted = true
		return graph.Stop()
	case ok && closing.Checkin && s.cfg.Restart != "":
		delta.Episode = st.Episode + 1
		if s.deps.CapScope == PerRun && len(st.Loops) > 0 {
			delta.Loops = make(map[string]int, len(st.Loops))
			for k, v := range st.Loops {
				delta.Loops[k] = v
			}
		}
		return graph.Goto(s.cfg.Restart)
	case s.cfg.Retry != "":
		return graph.Next{}
	}
	return graph.Goto(s.cfg.Resolved)
}
