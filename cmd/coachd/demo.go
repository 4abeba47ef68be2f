package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/graph/model"
)

// demoModel is the "mock" provider. It accepts whatever the user says so a
// check-in can be walked through offline.
type demoModel struct{}

func (demoModel) Chat(_ context.Context, messages []model.Message, format *model.ResponseFormat) (model.ChatOut, error) {
	if format == nil {
		return model.ChatOut{Text: "Hello! How are you feeling today?", Model: "demo"}, nil
	}

	said := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			said = messages[i].Content
			break
		}
	}

	reply := map[string]interface{}{"proceed": true}
	switch format.Name {
	case string(coach.OutcomeMood):
		reply["mood"] = said
		reply["response"] = "Thanks for sharing. What would you like to focus on today?"
	case string(coach.FactFocus):
		reply[format.Name] = said
		reply["response"] = "Good focus. What is your intention for it?"
	case string(coach.FactIntention):
		reply[format.Name] = said
		reply["response"] = "What one thing will you commit to?"
	case string(coach.OutcomeCommitment):
		reply["commitment"] = said
		reply["response"] = "Would you like a reminder?"
	case string(coach.OutcomeReminder):
		reply["wants_reminder"] = false
		reply["response"] = "No problem. Anything else on your mind?"
	case string(coach.OutcomeClosing):
		delete(reply, "proceed")
		lower := strings.ToLower(said)
		reply["end"] = strings.Contains(lower, "bye")
		reply["checkin"] = strings.Contains(lower, "check in")
		reply["response"] = "I'm here. Say bye when you're done."
	default:
		reply[format.Name] = said
		reply["response"] = "Tell me more."
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return model.ChatOut{}, err
	}
	return model.ChatOut{Text: string(data), Model: "demo"}, nil
}
