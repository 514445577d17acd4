package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/aether/pkg/channel"
)

// Pipeline is the builder of a running stage chain whose entry accepts I and
// whose last stage emits O. Every builder value is consumed by Then,
// AddStage or Finish; using it again panics.
type Pipeline[I, O any] struct {
	id     uuid.UUID
	input  *channel.Sender[I]
	output *channel.Receiver[O]
	stages []*StageInfo
	opts   *options
	logger *zap.Logger

	consumed bool
}

// New starts a pipeline with a single stage. The options apply to every
// stage added later.
func New[I, O any](name string, fn func(I) O, opts ...Option) *Pipeline[I, O] {
	if fn == nil {
		panic("pipeline: nil transform")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	id := uuid.New()
	log := o.resolveLogger().With(zap.String("pipeline_id", id.String()))

	tx, rx := channel.New[I](o.capacity)
	info := newStageInfo(stageName(name, 0), 0)
	out := spawnStage(info, fn, rx, o, log)

	log.Debug("pipeline started", zap.String("first_stage", info.name))

	return &Pipeline[I, O]{
		id:     id,
		input:  tx,
		output: out,
		stages: []*StageInfo{info},
		opts:   o,
		logger: log,
	}
}

// Then starts a stage that reads the output of p's last stage and returns
// the extended builder. p is consumed.
func Then[I, O, U any](p *Pipeline[I, O], name string, fn func(O) U) *Pipeline[I, U] {
	if fn == nil {
		panic("pipeline: nil transform")
	}
	p.consume("Then")

	info := newStageInfo(stageName(name, len(p.stages)), len(p.stages))
	out := spawnStage(info, fn, p.output, p.opts, p.logger)

	stages := make([]*StageInfo, len(p.stages), len(p.stages)+1)
	copy(stages, p.stages)

	return &Pipeline[I, U]{
		id:     p.id,
		input:  p.input,
		output: out,
		stages: append(stages, info),
		opts:   p.opts,
		logger: p.logger,
	}
}

// AddStage is Then for transforms that keep the item type.
func (p *Pipeline[I, O]) AddStage(name string, fn func(O) O) *Pipeline[I, O] {
	return Then(p, name, fn)
}

// Finish consumes the builder and returns the pipeline's entry and exit.
// Closing the Sender drains and stops the pipeline; closing the Receiver
// stops it from the far end.
func (p *Pipeline[I, O]) Finish() (*channel.Sender[I], *channel.Receiver[O]) {
	p.consume("Finish")
	p.logger.Info("pipeline ready", zap.Int("stages", len(p.stages)))
	return p.input, p.output
}

// ID returns the identifier attached to the pipeline's log lines.
func (p *Pipeline[I, O]) ID() uuid.UUID {
	return p.id
}

// Stages returns the stages in order, first to last. It stays valid after
// the builder is consumed.
func (p *Pipeline[I, O]) Stages() []*StageInfo {
	out := make([]*StageInfo, len(p.stages))
	copy(out, p.stages)
	return out
}

// Done returns a channel that is closed once every stage has terminated.
func (p *Pipeline[I, O]) Done() <-chan struct{} {
	done := make(chan struct{})
	stages := p.Stages()
	go func() {
		defer close(done)
		for _, s := range stages {
			<-s.Done()
		}
	}()
	return done
}

// Wait blocks until every stage has terminated or ctx is done.
func (p *Pipeline[I, O]) Wait(ctx context.Context) error {
	for _, s := range p.stages {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline[I, O]) consume(op string) {
	if p.consumed {
		panic(fmt.Sprintf("pipeline: %s called on a consumed builder", op))
	}
	p.consumed = true
}

func stageName(name string, index int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("stage-%d", index)
}
