package coach_test

import (
	"errors"
	"testing"

	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/graph/shape"
	"github.com/google/go-cmp/cmp"
)

func TestOutcomeValidator(t *testing.T) {
	tests := []struct {
		name      string
		kind      coach.OutcomeKind
		fact      coach.Fact
		candidate string
		want      coach.Outcome
		wantErr   bool
	}{
		{
			name:      "text",
			kind:      coach.OutcomeText,
			candidate: "  Hello!  ",
			want:      coach.TextOutcome{Response: "Hello!"},
		},
		{
			name:      "blank text",
			kind:      coach.OutcomeText,
			candidate: "   ",
			wantErr:   true,
		},
		{
			name:      "mood proceeds",
			kind:      coach.OutcomeMood,
			candidate: "```json\n{\"response\":\"Got it.\",\"proceed\":true,\"mood\":\"anxious\"}\n```",
			want:      coach.MoodOutcome{Response: "Got it.", Proceed: true, Mood: "anxious"},
		},
		{
			name:      "mood proceeds without mood",
			kind:      coach.OutcomeMood,
			candidate: `{"response":"Got it.","proceed":true}`,
			wantErr:   true,
		},
		{
			name:      "mood wrong kind",
			kind:      coach.OutcomeMood,
			candidate: `{"response":"Got it.","proceed":"yes"}`,
			wantErr:   true,
		},
		{
			name:      "capture",
			kind:      coach.OutcomeCapture,
			fact:      coach.FactFocus,
			candidate: `{"response":"Nice.","proceed":true,"focus":"health"}`,
			want:      coach.CaptureOutcome{Response: "Nice.", Proceed: true, Value: "health"},
		},
		{
			name:      "commitment unresolved",
			kind:      coach.OutcomeCommitment,
			candidate: `{"response":"Be more specific?","proceed":false}`,
			want:      coach.CommitmentOutcome{Response: "Be more specific?"},
		},
		{
			name:      "closing requires end",
			kind:      coach.OutcomeClosing,
			candidate: `{"response":"Bye"}`,
			wantErr:   true,
		},
		{
			name:      "closing checkin",
			kind:      coach.OutcomeClosing,
			candidate: `{"response":"Again!","end":false,"checkin":true}`,
			want:      coach.ClosingOutcome{Response: "Again!", Checkin: true},
		},
		{
			name:      "reminder declined",
			kind:      coach.OutcomeReminder,
			candidate: `{"response":"Okay.","proceed":true,"wants_reminder":false}`,
			want:      coach.ReminderOutcome{Response: "Okay.", Proceed: true},
		},
		{
			name:      "reminder both schedules",
			kind:      coach.OutcomeReminder,
			candidate: `{"response":"Okay.","proceed":true,"reminder_frequency":"daily","reminder_date":"2026-04-01"}`,
			wantErr:   true,
		},
		{
			name:      "reminder accepted",
			kind:      coach.OutcomeReminder,
			candidate: `{"response":"Okay.","proceed":true,"reminder_frequency":"month","reminder_time":"18:00"}`,
			want: coach.ReminderOutcome{Response: "Okay.", Proceed: true,
				Reminder: &coach.Reminder{Frequency: "monthly", Time: "18:00", Timezone: "UTC"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := coach.OutcomeValidator(tt.kind, tt.fact, clock, "UTC")
			got, err := v.Validate(tt.candidate)
			if tt.wantErr {
				if !errors.Is(err, shape.ErrRejected) {
					t.Fatalf("err = %v, want a rejection", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("outcome (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClosingResolved(t *testing.T) {
	if (coach.ClosingOutcome{}).Resolved() {
		t.Error("plain closing reply resolved")
	}
	if !(coach.ClosingOutcome{End: true}).Resolved() {
		t.Error("end did not resolve")
	}
}

func TestShapeFor(t *testing.T) {
	if _, ok := coach.ShapeFor(coach.OutcomeText, coach.NoFact); ok {
		t.Error("text has a shape")
	}
	s, ok := coach.ShapeFor(coach.OutcomeCapture, coach.FactIntention)
	if !ok || s.Name != "intention" {
		t.Errorf("capture shape = %+v", s)
	}
}
