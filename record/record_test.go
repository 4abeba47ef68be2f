package record_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/graph/store"
	"github.com/dshills/coachgraph/record"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func newSQLite(t *testing.T) *record.SQLRecorder {
	t.Helper()
	r, err := record.NewSQLite(filepath.Join(t.TempDir(), "record.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// state builds a state for user. Thread ids are scoped to the user so that
// runs against a shared database do not collide.
func state(user, thread string, episode int) coach.State {
	return coach.State{
		ThreadID: user + "/" + thread,
		Identity: &coach.Identity{UserID: user, Name: "Asha"},
		Episode:  episode,
	}
}

func runRecorderContract(t *testing.T, newRecorder func(t *testing.T) *record.SQLRecorder) {
	ctx := context.Background()
	user := "u-" + uuid.NewString()

	t.Run("transcript upsert", func(t *testing.T) {
		r := newRecorder(t)
		st := state(user, "t-transcript", 1)
		st.Messages = coach.NewMessageLog(coach.Turn{Role: coach.Assistant, Content: "Hi"})
		if err := r.RecordTurn(ctx, st); err != nil {
			t.Fatal(err)
		}
		st.Messages = st.Messages.Append(coach.Turn{Role: coach.Human, Content: "Hello"})
		if err := r.RecordTurn(ctx, st); err != nil {
			t.Fatal(err)
		}

		turns, err := r.Transcript(ctx, user+"/t-transcript")
		if err != nil {
			t.Fatal(err)
		}
		if len(turns) != 2 || turns[1].Content != "Hello" {
			t.Errorf("transcript = %+v", turns)
		}
		if _, err := r.Transcript(ctx, "absent"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("missing transcript err = %v", err)
		}
	})

	t.Run("mood is idempotent", func(t *testing.T) {
		r := newRecorder(t)
		st := state(user, "t-mood", 1)
		st.Facts.Mood = "calm"
		for i := 0; i < 2; i++ {
			if err := r.RecordMood(ctx, st); err != nil {
				t.Fatal(err)
			}
		}
		moods, err := r.Moods(ctx, user)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"calm"}, moods); diff != "" {
			t.Errorf("moods (-want +got):\n%s", diff)
		}
	})

	t.Run("commitment limit", func(t *testing.T) {
		r := newRecorder(t)
		for i := 0; i < record.MaxActiveCommitments; i++ {
			st := state(user, fmt.Sprintf("t-limit-%d", i), 1)
			st.Facts.Commitment = fmt.Sprintf("commitment %d", i)
			if err := r.RecordCommitment(ctx, st); err != nil {
				t.Fatalf("commitment %d: %v", i, err)
			}
			// Recording the same episode again is not a new commitment.
			if err := r.RecordCommitment(ctx, st); err != nil {
				t.Fatalf("repeat commitment %d: %v", i, err)
			}
		}

		sixth := state(user, "t-limit-6", 1)
		sixth.Facts.Commitment = "one too many"
		if err := r.RecordCommitment(ctx, sixth); !errors.Is(err, record.ErrCommitmentLimit) {
			t.Fatalf("sixth commitment err = %v, want ErrCommitmentLimit", err)
		}

		if err := r.CompleteCommitment(ctx, user, user+"/t-limit-0", 1); err != nil {
			t.Fatal(err)
		}
		if err := r.RecordCommitment(ctx, sixth); err != nil {
			t.Fatalf("commitment after completing one: %v", err)
		}

		active, err := r.ActiveCommitments(ctx, user)
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != record.MaxActiveCommitments {
			t.Fatalf("active = %v", active)
		}
		if active[0].ThreadID != user+"/t-limit-1" || active[0].Status != "active" {
			t.Errorf("oldest active = %+v", active[0])
		}
		if got := active[len(active)-1]; got.Commitment != "one too many" || got.Episode != 1 {
			t.Errorf("newest active = %+v", got)
		}

		if err := r.CompleteCommitment(ctx, user, user+"/t-limit-0", 1); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("completing twice err = %v, want ErrNotFound", err)
		}
		if err := r.CompleteCommitment(ctx, "someone-else", user+"/t-limit-1", 1); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("completing another user's commitment err = %v, want ErrNotFound", err)
		}
		if err := r.CompleteCommitment(ctx, user, "absent", 1); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("complete missing err = %v", err)
		}
	})

	t.Run("reminder", func(t *testing.T) {
		r := newRecorder(t)
		st := state(user, "t-reminder", 2)
		if err := r.RecordReminder(ctx, st); err != nil {
			t.Fatalf("nil reminder: %v", err)
		}
		st.Facts.Reminder = &coach.Reminder{Frequency: "weekly", Time: "09:00", Timezone: "UTC"}
		if err := r.RecordReminder(ctx, st); err != nil {
			t.Fatal(err)
		}
		got, err := r.Reminders(ctx, user)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]coach.Reminder{*st.Facts.Reminder}, got); diff != "" {
			t.Errorf("reminders (-want +got):\n%s", diff)
		}
	})

	t.Run("closed", func(t *testing.T) {
		r := newRecorder(t)
		if err := r.Close(); err != nil {
			t.Fatal(err)
		}
		if err := r.RecordTurn(ctx, state(user, "t", 1)); !errors.Is(err, record.ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
		if err := r.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	})
}

func TestSQLiteRecorder(t *testing.T) {
	runRecorderContract(t, newSQLite)
}

func TestMySQLRecorder(t *testing.T) {
	dsn := os.Getenv("COACHGRAPH_MYSQL_DSN")
	if dsn == "" {
		t.Skip("COACHGRAPH_MYSQL_DSN not set")
	}
	runRecorderContract(t, func(t *testing.T) *record.SQLRecorder {
		r, err := record.NewMySQL(dsn)
		if err != nil {
			t.Fatalf("NewMySQL: %v", err)
		}
		t.Cleanup(func() { _ = r.Close() })
		return r
	})
}

func TestUserFallsBackToThread(t *testing.T) {
	r := newSQLite(t)
	st := coach.State{ThreadID: "anon", Episode: 1, Facts: coach.Facts{Mood: "ok"}}
	if err := r.RecordMood(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	moods, _ := r.Moods(context.Background(), "anon")
	if len(moods) != 1 {
		t.Errorf("moods = %v", moods)
	}
}
