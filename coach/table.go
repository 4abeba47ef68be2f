package coach

import (
	"fmt"

	"github.com/dshills/coachgraph/graph"
)

// Stage ids of the default table.
const (
	StageWelcome          = "welcome"
	StageWelcomeBack      = "welcome_back"
	StageMoodCheck        = "mood_check"
	StageFocus            = "focus"
	StageIntention        = "intention"
	StageCommitment       = "commitment"
	StageReminder         = "reminder"
	StageOpenConversation = "open_conversation"
)

// RetryName is the id of the retry variant of stage.
func RetryName(stage string) string {
	return stage + "_retry"
}

// DefaultTable is the check-in flow: welcome, mood, focus, intention,
// commitment, reminder, then an open conversation that runs until the user
// ends it.
func DefaultTable() []StageConfig {
	flow := []StageConfig{
		{Name: StageWelcome, Prompt: StageWelcome, Outcome: OutcomeText, Resolved: StageMoodCheck},
		{Name: StageWelcomeBack, Prompt: StageWelcomeBack, Outcome: OutcomeText, Resolved: StageMoodCheck},
	}

	looped := []StageConfig{
		{Name: StageMoodCheck, Outcome: OutcomeMood, Fact: FactMood, Resolved: StageFocus},
		{Name: StageFocus, Outcome: OutcomeCapture, Fact: FactFocus, Knowledge: true, Resolved: StageIntention},
		{Name: StageIntention, Outcome: OutcomeCapture, Fact: FactIntention, Knowledge: true, Resolved: StageCommitment},
		{Name: StageCommitment, Outcome: OutcomeCommitment, Fact: FactCommitment, FallbackToInput: true, Resolved: StageReminder},
		{Name: StageReminder, Outcome: OutcomeReminder, Fact: FactReminder, Resolved: StageOpenConversation},
	}
	for _, c := range looped {
		c.Logical = c.Name
		c.Prompt = c.Name
		c.Input = true
		c.Retry = RetryName(c.Name)
		flow = append(flow, c)

		retry := c
		retry.Name = RetryName(c.Name)
		retry.Retry = retry.Name
		flow = append(flow, retry)
	}

	return append(flow, StageConfig{
		Name:      StageOpenConversation,
		Prompt:    StageOpenConversation,
		Input:     true,
		Outcome:   OutcomeClosing,
		Knowledge: true,
		Resolved:  StageOpenConversation,
		Restart:   StageMoodCheck,
	})
}

// Build registers one Stage per row on engine, wires the flag edges of
// every stage with a retry variant and sets the first row as the start
// node.
func Build(engine *graph.Engine[State], table []StageConfig, deps Deps) error {
	if len(table) == 0 {
		return fmt.Errorf("empty stage table")
	}
	if deps.Model == nil {
		return fmt.Errorf("stage table needs a model")
	}
	if deps.Prompts == nil {
		prompts, err := NewPrompts(DefaultPrompts())
		if err != nil {
			return err
		}
		deps.Prompts = prompts
	}

	names := make(map[string]bool, len(table))
	for _, c := range table {
		names[c.Name] = true
	}

	for _, c := range table {
		if !deps.Prompts.Has(c.Prompt) {
			return fmt.Errorf("stage %s: unknown prompt %q", c.Name, c.Prompt)
		}
		for _, target := range []string{c.Resolved, c.Retry, c.Restart} {
			if target != "" && !names[target] {
				return fmt.Errorf("stage %s: unknown target %q", c.Name, target)
			}
		}
		if c.Resolved == "" {
			return fmt.Errorf("stage %s: no resolved target", c.Name)
		}

		if err := engine.Add(c.Name, NewStage(c, deps)); err != nil {
			return err
		}
		if c.Retry == "" {
			continue
		}
		if err := engine.Connect(c.Name, c.Resolved, flagSet(c.Name)); err != nil {
			return err
		}
		if err := engine.Connect(c.Name, c.Retry, nil); err != nil {
			return err
		}
	}
	return engine.StartAt(table[0].Name)
}

func flagSet(stage string) graph.Predicate[State] {
	return func(st State) bool {
		return st.Flags[stage]
	}
}
