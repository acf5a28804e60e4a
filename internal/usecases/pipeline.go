package usecases

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"restobot/internal/entities"
	"restobot/internal/logger"
	"restobot/internal/metrics"
)

// Status is the outcome of one inbound message.
type Status string

const (
	StatusProcessed         Status = "processed"
	StatusIgnored           Status = "ignored"
	StatusNoAgent           Status = "no_agent"
	StatusPaused            Status = "paused"
	StatusHumanHandoff      Status = "human_handoff"
	StatusFallbackTriggered Status = "fallback_triggered"
)

// RunState carries one message through the pipeline. Each step reads what
// earlier steps stored and adds its own result.
type RunState struct {
	Inbound      *entities.InboundMessage
	Agent        *entities.Agent
	Conversation *entities.Conversation
	Stored       *entities.Message
	Sentiment    *entities.SentimentResult
	Test         *entities.ABTest
	Variant      *entities.ABTestVariant
	Context      *AssembledContext
	Reply        string
	ReplyStored  *entities.Message

	status   Status
	halted   bool
	dedupKey string
	release  []func()
}

// Halt stops the run after the current step with the given status.
func (s *RunState) Halt(status Status) {
	s.status = status
	s.halted = true
}

// Defer registers cleanup that runs when the pipeline returns.
func (s *RunState) Defer(fn func()) {
	s.release = append(s.release, fn)
}

// Step is one named stage. A failing required step aborts the run; a
// failing optional step is logged and skipped.
type Step struct {
	Name     string
	Required bool
	Run      func(ctx context.Context, s *RunState) error
}

type Pipeline struct {
	Steps  []Step
	tracer trace.Tracer
	log    logger.Logger
}

func NewPipeline(tracer trace.Tracer, log logger.Logger, steps ...Step) *Pipeline {
	return &Pipeline{Steps: steps, tracer: tracer, log: log}
}

func (p *Pipeline) Run(ctx context.Context, state *RunState) (Status, error) {
	defer func() {
		for i := len(state.release) - 1; i >= 0; i-- {
			state.release[i]()
		}
	}()

	for _, step := range p.Steps {
		if err := p.runStep(ctx, step, state); err != nil {
			if step.Required {
				return "", fmt.Errorf("%s: %w", step.Name, err)
			}
			p.log.Warn("optional pipeline step failed", map[string]interface{}{
				"step":  step.Name,
				"error": err.Error(),
			})
		}
		if state.halted {
			return state.status, nil
		}
	}
	return StatusProcessed, nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step, state *RunState) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+step.Name,
		trace.WithAttributes(attribute.Bool("pipeline.required", step.Required)))
	defer span.End()

	start := time.Now()
	err := step.Run(ctx, state)
	metrics.PipelineStepDuration.WithLabelValues(step.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.PipelineStepFailures.WithLabelValues(step.Name, strconv.FormatBool(step.Required)).Inc()
	}
	if state.halted {
		span.SetAttributes(attribute.String("pipeline.halt", string(state.status)))
	}
	return err
}
