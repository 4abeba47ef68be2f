package emit

import "testing"

func TestBufferedEmitter(t *testing.T) {
	t.Run("isolates events by thread", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{ThreadID: "t-1", Msg: "node completed"})
		emitter.Emit(Event{ThreadID: "t-2", Msg: "node completed"})
		emitter.Emit(Event{ThreadID: "t-1", Msg: "node suspended"})

		if got := len(emitter.GetHistory("t-1")); got != 2 {
			t.Errorf("t-1 history = %d events, want 2", got)
		}
		if got := len(emitter.GetHistory("t-2")); got != 1 {
			t.Errorf("t-2 history = %d events, want 1", got)
		}
	})

	t.Run("unknown thread returns empty slice", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		history := emitter.GetHistory("missing")
		if history == nil || len(history) != 0 {
			t.Errorf("GetHistory = %#v, want empty non-nil slice", history)
		}
	})

	t.Run("returned history is a copy", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		emitter.Emit(Event{ThreadID: "t", NodeID: "welcome"})

		history := emitter.GetHistory("t")
		history[0].NodeID = "changed"

		if got := emitter.GetHistory("t")[0].NodeID; got != "welcome" {
			t.Errorf("stored NodeID = %q, want welcome", got)
		}
	})

	t.Run("clear", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		emitter.Emit(Event{ThreadID: "a"})
		emitter.Emit(Event{ThreadID: "b"})

		emitter.Clear("a")
		if len(emitter.GetHistory("a")) != 0 || len(emitter.GetHistory("b")) != 1 {
			t.Fatal("Clear(a) should only remove thread a")
		}

		emitter.Clear("")
		if len(emitter.GetHistory("b")) != 0 {
			t.Error(`Clear("") should remove every thread`)
		}
	})
}

func TestBufferedEmitterFilter(t *testing.T) {
	emitter := NewBufferedEmitter()
	events := []Event{
		{ThreadID: "t", Step: 1, NodeID: "welcome", Msg: "node completed"},
		{ThreadID: "t", Step: 2, NodeID: "mood_check", Msg: "node suspended"},
		{ThreadID: "t", Step: 3, NodeID: "mood_check", Msg: "node completed"},
		{ThreadID: "t", Step: 4, NodeID: "focus", Msg: "node suspended"},
	}
	for _, e := range events {
		emitter.Emit(e)
	}

	two, three := 2, 3
	tests := []struct {
		name   string
		filter HistoryFilter
		want   []int
	}{
		{"empty filter", HistoryFilter{}, []int{1, 2, 3, 4}},
		{"by node", HistoryFilter{NodeID: "mood_check"}, []int{2, 3}},
		{"by msg", HistoryFilter{Msg: "node suspended"}, []int{2, 4}},
		{"step range", HistoryFilter{MinStep: &two, MaxStep: &three}, []int{2, 3}},
		{"combined", HistoryFilter{NodeID: "mood_check", Msg: "node completed"}, []int{3}},
		{"no match", HistoryFilter{NodeID: "reminder"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := emitter.GetHistoryWithFilter("t", tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i, step := range tt.want {
				if got[i].Step != step {
					t.Errorf("event %d step = %d, want %d", i, got[i].Step, step)
				}
			}
		})
	}
}
