package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"restobot/internal/logger"
)

func TestPipelineRun(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	var order []string
	step := func(name string, required bool, err error) Step {
		return Step{Name: name, Required: required, Run: func(context.Context, *RunState) error {
			order = append(order, name)
			return err
		}}
	}

	t.Run("optional failure continues", func(t *testing.T) {
		order = nil
		p := NewPipeline(tracer, logger.NewTestLogger(t),
			step("a", true, nil),
			step("b", false, errors.New("boom")),
			step("c", true, nil),
		)
		status, err := p.Run(context.Background(), &RunState{})
		require.NoError(t, err)
		assert.Equal(t, StatusProcessed, status)
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})

	t.Run("required failure aborts", func(t *testing.T) {
		order = nil
		boom := errors.New("boom")
		p := NewPipeline(tracer, logger.NewTestLogger(t),
			step("a", true, boom),
			step("b", true, nil),
		)
		_, err := p.Run(context.Background(), &RunState{})
		require.ErrorIs(t, err, boom)
		assert.EqualError(t, err, "a: boom")
		assert.Equal(t, []string{"a"}, order)
	})

	t.Run("halt stops and releases in reverse", func(t *testing.T) {
		order = nil
		var released []string
		p := NewPipeline(tracer, logger.NewTestLogger(t),
			Step{Name: "lock", Run: func(_ context.Context, s *RunState) error {
				s.Defer(func() { released = append(released, "first") })
				s.Defer(func() { released = append(released, "second") })
				return nil
			}},
			Step{Name: "guard", Run: func(_ context.Context, s *RunState) error {
				s.Halt(StatusPaused)
				return nil
			}},
			step("never", true, nil),
		)
		status, err := p.Run(context.Background(), &RunState{})
		require.NoError(t, err)
		assert.Equal(t, StatusPaused, status)
		assert.Empty(t, order)
		assert.Equal(t, []string{"second", "first"}, released)
	})
}
