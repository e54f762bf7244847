package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"prenotazioni/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Catalog(ctx context.Context) (models.Reply, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Reply), args.Error(1)
}

func (m *mockEngine) Start(ctx context.Context, userID, displayName, propertyName string) (models.Reply, error) {
	args := m.Called(ctx, userID, displayName, propertyName)
	return args.Get(0).(models.Reply), args.Error(1)
}

func (m *mockEngine) Advance(ctx context.Context, userID, text string) (models.Reply, error) {
	args := m.Called(ctx, userID, text)
	return args.Get(0).(models.Reply), args.Error(1)
}

func (m *mockEngine) Reset(ctx context.Context, userID string) (models.Reply, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Reply), args.Error(1)
}

func (m *mockEngine) Active(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type mockAssistant struct {
	mock.Mock
}

func (m *mockAssistant) Answer(ctx context.Context, userID, text string) (string, error) {
	args := m.Called(ctx, userID, text)
	return args.String(0), args.Error(1)
}

func newRouter(engine *mockEngine, assistant *mockAssistant) *Router {
	cfg := Config{IntentPhrases: models.DefaultIntentPhrases(), AssistantTimeout: 50 * time.Millisecond}
	if assistant == nil {
		return New(engine, nil, cfg, nil)
	}
	return New(engine, assistant, cfg, nil)
}

func msg(text string) models.InboundMessage {
	return models.InboundMessage{UserID: "42", DisplayName: "Mario", Channel: "telegram", Text: text}
}

func TestRoute_Commands(t *testing.T) {
	ctx := context.Background()

	t.Run("reset wins over active session", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Reset", ctx, "42").Return(models.Reply{Text: "annullata", Step: models.StepIdle}, nil)

		for _, text := range []string{"/annulla", "/reset", "/ANNULLA"} {
			reply, err := newRouter(engine, nil).Route(ctx, msg(text))
			require.NoError(t, err)
			assert.Equal(t, models.RouteReset, reply.Route)
		}
		engine.AssertNotCalled(t, "Active", mock.Anything, mock.Anything)
	})

	t.Run("prenota with name", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Start", ctx, "42", "Mario", "Villa Bella").
			Return(models.Reply{Text: "ok", Step: models.StepAwaitingCheckIn}, nil)

		reply, err := newRouter(engine, nil).Route(ctx, msg("/prenota   Villa Bella "))
		require.NoError(t, err)
		assert.Equal(t, models.RouteCommand, reply.Route)
		assert.Equal(t, models.StepAwaitingCheckIn, reply.Step)
		engine.AssertExpectations(t)
	})

	t.Run("prenota with bot mention", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Start", ctx, "42", "Mario", "Villa Bella").Return(models.Reply{}, nil)

		_, err := newRouter(engine, nil).Route(ctx, msg("/prenota@PrenotaBot Villa Bella"))
		require.NoError(t, err)
		engine.AssertExpectations(t)
	})

	t.Run("bare prenota lists catalog", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Catalog", ctx).Return(models.Reply{Text: "catalogo"}, nil)

		reply, err := newRouter(engine, nil).Route(ctx, msg("/prenota"))
		require.NoError(t, err)
		assert.Equal(t, "catalogo", reply.Text)
		engine.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("help", func(t *testing.T) {
		engine := &mockEngine{}
		for _, text := range []string{"/start", "/aiuto", "/help"} {
			reply, err := newRouter(engine, nil).Route(ctx, msg(text))
			require.NoError(t, err)
			assert.Equal(t, models.RouteHelp, reply.Route)
			assert.Contains(t, reply.Text, "/prenota")
		}
	})

	t.Run("engine error surfaces", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Start", ctx, "42", "Mario", "Villa").Return(models.Reply{}, errors.New("db down"))

		_, err := newRouter(engine, nil).Route(ctx, msg("/prenota Villa"))
		assert.Error(t, err)
	})
}

func TestRoute_ActiveSession(t *testing.T) {
	ctx := context.Background()
	engine := &mockEngine{}
	engine.On("Active", ctx, "42").Return(true, nil)
	engine.On("Advance", ctx, "42", "voglio prenotare 4").
		Return(models.Reply{Text: "👥 Quanti ospiti?", Step: models.StepAwaitingGuests}, nil)

	reply, err := newRouter(engine, &mockAssistant{}).Route(ctx, msg(" voglio prenotare 4 "))
	require.NoError(t, err)
	assert.Equal(t, models.RouteSession, reply.Route)
	engine.AssertNotCalled(t, "Catalog", mock.Anything)
}

func TestRoute_Intent(t *testing.T) {
	ctx := context.Background()
	engine := &mockEngine{}
	engine.On("Active", ctx, "42").Return(false, nil)
	engine.On("Catalog", ctx).Return(models.Reply{Text: "catalogo", Step: models.StepIdle}, nil)

	reply, err := newRouter(engine, &mockAssistant{}).Route(ctx, msg("Vorrei PRENOTARE per agosto"))
	require.NoError(t, err)
	assert.Equal(t, models.RouteIntent, reply.Route)
	assert.Equal(t, "catalogo", reply.Text)
	engine.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRoute_Assistant(t *testing.T) {
	ctx := context.Background()

	t.Run("answer", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Active", ctx, "42").Return(false, nil)
		assistant := &mockAssistant{}
		assistant.On("Answer", mock.Anything, "42", "a che ora è la colazione?").Return("Dalle 8 alle 10.", nil)

		reply, err := newRouter(engine, assistant).Route(ctx, msg("a che ora è la colazione?"))
		require.NoError(t, err)
		assert.Equal(t, models.RouteAssistant, reply.Route)
		assert.Equal(t, "Dalle 8 alle 10.", reply.Text)
	})

	t.Run("error falls back to help", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Active", ctx, "42").Return(false, nil)
		assistant := &mockAssistant{}
		assistant.On("Answer", mock.Anything, "42", "ciao").Return("", context.DeadlineExceeded)

		reply, err := newRouter(engine, assistant).Route(ctx, msg("ciao"))
		require.NoError(t, err)
		assert.Equal(t, models.RouteHelp, reply.Route)
		assert.Contains(t, reply.Text, "/prenota")
	})

	t.Run("deadline is bounded", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Active", ctx, "42").Return(false, nil)
		assistant := &mockAssistant{}
		assistant.On("Answer", mock.Anything, "42", "ciao").
			Run(func(args mock.Arguments) {
				askCtx := args.Get(0).(context.Context)
				deadline, ok := askCtx.Deadline()
				assert.True(t, ok)
				assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
			}).
			Return("ok", nil)

		_, err := newRouter(engine, assistant).Route(ctx, msg("ciao"))
		require.NoError(t, err)
		assistant.AssertExpectations(t)
	})

	t.Run("no assistant", func(t *testing.T) {
		engine := &mockEngine{}
		engine.On("Active", ctx, "42").Return(false, nil)

		reply, err := newRouter(engine, nil).Route(ctx, msg("ciao"))
		require.NoError(t, err)
		assert.Equal(t, models.RouteHelp, reply.Route)
	})
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, command, args string
	}{
		{in: "/prenota Villa Bella", command: "/prenota", args: "Villa Bella"},
		{in: "/Prenota", command: "/prenota"},
		{in: "/prenota@Bot  x ", command: "/prenota", args: "x"},
		{in: "prenota", command: ""},
		{in: "/prenotazione", command: "/prenotazione"},
	}
	for _, tt := range tests {
		command, args := splitCommand(tt.in)
		assert.Equal(t, tt.command, command, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}
