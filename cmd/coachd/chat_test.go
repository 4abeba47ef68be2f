package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoStack(t *testing.T) *stack {
	t.Helper()
	cfg := config.Default()
	cfg.Model.Provider = "mock"
	cfg.Log.Level = "error"
	require.NoError(t, cfg.Validate())

	s, err := buildStack(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestChatRunsCheckinToEnd(t *testing.T) {
	s := demoStack(t)
	in := strings.NewReader(strings.Join([]string{
		"pretty good",
		"my health",
		"be consistent",
		"walk every morning",
		"no thanks",
		"bye",
	}, "\n") + "\n")
	var out bytes.Buffer

	identity := coach.Identity{Name: "Asha", Timezone: "UTC", Now: time.Now()}
	require.NoError(t, chat(context.Background(), s.runner, "t1", identity, false, in, &out))

	text := out.String()
	assert.Contains(t, text, "How are you feeling today?")
	assert.Contains(t, text, "What one thing will you commit to?")
	assert.Contains(t, text, "Say bye when you're done.")

	st, err := s.runner.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "pretty good", st.Facts.Mood)
	assert.Equal(t, "walk every morning", st.Facts.Commitment)
	assert.Nil(t, st.Facts.Reminder)
}

func TestChatSkipsInvalidInput(t *testing.T) {
	s := demoStack(t)
	var out bytes.Buffer
	identity := coach.Identity{Name: "Asha", Timezone: "UTC", Now: time.Now()}

	require.NoError(t, chat(context.Background(), s.runner, "t1", identity, false, strings.NewReader("   \n"), &out))
	assert.Contains(t, out.String(), "invalid message")
}

func TestRedisThreadsDoNotExpireByDefault(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Model.Provider = "mock"
	cfg.Log.Level = "error"
	cfg.Store.Driver = "redis"
	cfg.Store.Redis.Addr = mr.Addr()
	require.NoError(t, cfg.Validate())

	s, err := buildStack(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })

	identity := coach.Identity{Name: "Asha", Timezone: "UTC", Now: time.Now()}
	_, err = s.runner.Start(context.Background(), "t1", identity, false)
	require.NoError(t, err)

	mr.FastForward(365 * 24 * time.Hour)

	reply, err := s.runner.Pending(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, reply.AwaitingInput)
	history, err := s.runner.History(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "coachd version dev\n", out.String())
}

func TestUnknownProvider(t *testing.T) {
	_, err := providerModel(config.ModelConfig{Provider: "nope"}, nil, nil)
	assert.Error(t, err)
}
