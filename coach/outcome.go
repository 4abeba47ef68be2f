package coach

import (
	"time"

	"github.com/dshills/coachgraph/graph"
	"github.com/dshills/coachgraph/graph/shape"
)

// OutcomeKind selects the reply contract of a stage.
type OutcomeKind string

const (
	OutcomeText       OutcomeKind = "text"
	OutcomeMood       OutcomeKind = "mood"
	OutcomeCapture    OutcomeKind = "capture"
	OutcomeCommitment OutcomeKind = "commitment"
	OutcomeReminder   OutcomeKind = "reminder"
	OutcomeClosing    OutcomeKind = "closing"
)

// Outcome is an accepted model reply.
type Outcome interface {
	// Reply is the text shown to the user.
	Reply() string

	// Resolved is the routing signal.
	Resolved() bool
}

// TextOutcome is a free-text reply. It always resolves.
type TextOutcome struct {
	Response string
}

func (o TextOutcome) Reply() string  { return o.Response }
func (o TextOutcome) Resolved() bool { return true }

// MoodOutcome carries the mood the user described.
type MoodOutcome struct {
	Response string `json:"response"`
	Proceed  bool   `json:"proceed"`
	Mood     string `json:"mood,omitempty"`
}

func (o MoodOutcome) Reply() string  { return o.Response }
func (o MoodOutcome) Resolved() bool { return o.Proceed }

// CaptureOutcome carries a free-form fact such as the focus or intention.
type CaptureOutcome struct {
	Response string
	Proceed  bool
	Value    string
}

func (o CaptureOutcome) Reply() string  { return o.Response }
func (o CaptureOutcome) Resolved() bool { return o.Proceed }

// CommitmentOutcome carries the commitment the user made.
type CommitmentOutcome struct {
	Response   string `json:"response"`
	Proceed    bool   `json:"proceed"`
	Commitment string `json:"commitment,omitempty"`
}

func (o CommitmentOutcome) Reply() string  { return o.Response }
func (o CommitmentOutcome) Resolved() bool { return o.Proceed }

// ReminderOutcome carries a validated reminder when the user asked for one.
type ReminderOutcome struct {
	Response string
	Proceed  bool

	// Reminder is nil when the user declined a reminder.
	Reminder *Reminder
}

func (o ReminderOutcome) Reply() string  { return o.Response }
func (o ReminderOutcome) Resolved() bool { return o.Proceed }

// ClosingOutcome is the open conversation reply. End halts the thread and
// Checkin starts a new episode.
type ClosingOutcome struct {
	Response string `json:"response"`
	End      bool   `json:"end"`
	Checkin  bool   `json:"checkin,omitempty"`
}

func (o ClosingOutcome) Reply() string  { return o.Response }
func (o ClosingOutcome) Resolved() bool { return o.End || o.Checkin }

var (
	responseField = shape.Field{Name: "response", Kind: shape.String, Required: true,
		Description: "The message to send to the user."}
	proceedField = shape.Field{Name: "proceed", Kind: shape.Bool, Required: true,
		Description: "True when the user gave a clear answer and the conversation can move on."}
)

// MoodShape is the mood check reply.
var MoodShape = shape.Shape{
	Name: string(OutcomeMood),
	Fields: []shape.Field{
		responseField,
		proceedField,
		{Name: "mood", Kind: shape.String, Description: "The user's mood in their own words."},
	},
	Rules: []shape.Rule{shape.RequiredWhen("mood", "proceed")},
}

// CommitmentShape is the commitment reply.
var CommitmentShape = shape.Shape{
	Name: string(OutcomeCommitment),
	Fields: []shape.Field{
		responseField,
		proceedField,
		{Name: "commitment", Kind: shape.String, Description: "The concrete action the user committed to."},
	},
	Rules: []shape.Rule{shape.RequiredWhen("commitment", "proceed")},
}

// CaptureShape is the reply of a stage capturing fact.
func CaptureShape(fact Fact) shape.Shape {
	name := string(fact)
	return shape.Shape{
		Name: name,
		Fields: []shape.Field{
			responseField,
			proceedField,
			{Name: name, Kind: shape.String, Description: "The user's " + name + " in one short sentence."},
		},
		Rules: []shape.Rule{shape.RequiredWhen(name, "proceed")},
	}
}

// ReminderShape is the reminder reply. The reminder itself is validated
// separately because it depends on the clock.
var ReminderShape = shape.Shape{
	Name: string(OutcomeReminder),
	Fields: []shape.Field{
		responseField,
		proceedField,
		{Name: "wants_reminder", Kind: shape.Bool, Description: "Whether the user wants a reminder at all."},
		{Name: "reminder_frequency", Kind: shape.String, Description: "daily, weekly, fortnightly or monthly."},
		{Name: "reminder_date", Kind: shape.String, Description: "A single date as YYYY-MM-DD."},
		{Name: "reminder_time", Kind: shape.String, Description: "Time of day as HH:MM."},
	},
}

// ClosingShape is the open conversation reply.
var ClosingShape = shape.Shape{
	Name: string(OutcomeClosing),
	Fields: []shape.Field{
		responseField,
		{Name: "end", Kind: shape.Bool, Required: true, Description: "True only when the user wants to stop."},
		{Name: "checkin", Kind: shape.Bool, Description: "True when the user wants to start a new check-in."},
	},
}

// ShapeFor returns the shape of kind. Text has none.
func ShapeFor(kind OutcomeKind, fact Fact) (shape.Shape, bool) {
	switch kind {
	case OutcomeMood:
		return MoodShape, true
	case OutcomeCapture:
		return CaptureShape(fact), true
	case OutcomeCommitment:
		return CommitmentShape, true
	case OutcomeReminder:
		return ReminderShape, true
	case OutcomeClosing:
		return ClosingShape, true
	}
	return shape.Shape{}, false
}

// OutcomeValidator returns the validator for kind.
//
// The reminder validator checks dates against now() in tz, so it is only as
// pure as the clock it is given.
func OutcomeValidator(kind OutcomeKind, fact Fact, now func() time.Time, tz string) graph.Validator[Outcome] {
	switch kind {
	case OutcomeMood:
		return widen(shape.Struct[MoodOutcome](MoodShape))
	case OutcomeCommitment:
		return widen(shape.Struct[CommitmentOutcome](CommitmentShape))
	case OutcomeClosing:
		return widen(shape.Struct[ClosingOutcome](ClosingShape))
	case OutcomeCapture:
		s := CaptureShape(fact)
		return graph.ValidatorFunc[Outcome](func(candidate string) (Outcome, error) {
			v, err := s.Check(candidate)
			if err != nil {
				return nil, err
			}
			return CaptureOutcome{Response: v.String("response"), Proceed: v.Bool("proceed"), Value: v.String(string(fact))}, nil
		})
	case OutcomeReminder:
		return reminderValidator(now, tz)
	default:
		text := shape.Text()
		return graph.ValidatorFunc[Outcome](func(candidate string) (Outcome, error) {
			reply, err := text.Validate(candidate)
			if err != nil {
				return nil, err
			}
			return TextOutcome{Response: reply}, nil
		})
	}
}

func widen[T Outcome](v graph.Validator[T]) graph.Validator[Outcome] {
	return graph.ValidatorFunc[Outcome](func(candidate string) (Outcome, error) {
		out, err := v.Validate(candidate)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// reminderValidator accepts a reply that either proceeds without a reminder
// (wants_reminder false) or proceeds with exactly one valid schedule.
func reminderValidator(now func() time.Time, tz string) graph.Validator[Outcome] {
	if now == nil {
		now = time.Now
	}
	return graph.ValidatorFunc[Outcome](func(candidate string) (Outcome, error) {
		v, err := ReminderShape.Check(candidate)
		if err != nil {
			return nil, err
		}
		out := ReminderOutcome{Response: v.String("response"), Proceed: v.Bool("proceed")}
		if !out.Proceed {
			return out, nil
		}
		if v.Has("wants_reminder") && !v.Bool("wants_reminder") {
			return out, nil
		}

		r, err := ValidateReminder(v.String("reminder_frequency"), v.String("reminder_date"),
			v.String("reminder_time"), tz, now())
		if err != nil {
			return nil, &shape.Rejection{Shape: ReminderShape.Name, Field: "reminder", Reason: err.Error()}
		}
		out.Reminder = &r
		return out, nil
	})
}
