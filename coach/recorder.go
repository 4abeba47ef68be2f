package coach

import "context"

// Recorder persists what a conversation establishes. Calls are best effort
// and must be idempotent: a stage may record the same state twice when a
// turn is retried.
type Recorder interface {
	// RecordTurn saves the transcript. Called after every stage execution.
	RecordTurn(ctx context.Context, st State) error

	// RecordMood is called once the mood is set.
	RecordMood(ctx context.Context, st State) error

	// RecordCommitment is called once the commitment is set.
	RecordCommitment(ctx context.Context, st State) error

	// RecordReminder is called once a reminder is set.
	RecordReminder(ctx context.Context, st State) error
}

// NopRecorder records nothing.
type NopRecorder struct{}

func (NopRecorder) RecordTurn(context.Context, State) error       { return nil }
func (NopRecorder) RecordMood(context.Context, State) error       { return nil }
func (NopRecorder) RecordCommitment(context.Context, State) error { return nil }
func (NopRecorder) RecordReminder(context.Context, State) error   { return nil }

// record calls the recorder method matching fact.
func record(ctx context.Context, r Recorder, fact Fact, st State) error {
	switch fact {
	case FactMood:
		return r.RecordMood(ctx, st)
	case FactCommitment:
		return r.RecordCommitment(ctx, st)
	case FactReminder:
		return r.RecordReminder(ctx, st)
	}
	return nil
}
