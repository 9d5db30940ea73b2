package denoise

import "go.uber.org/zap"

// Processor is one effect instance driven by a host callback.
type Processor interface {
	Process(in []Frame, out []Frame)
	Stats() AdapterStats
	Close() error
}

var (
	_ Processor = (*Adapter)(nil)
	_ Processor = (*InlineAdapter)(nil)
)

// Effect is the effect descriptor. It owns the parameter store shared by
// every instance it creates.
type Effect struct {
	store   *ConfigStore
	factory Factory
	opts    Options
	logger  *zap.Logger
}

// NewEffect creates a descriptor seeded with params.
func NewEffect(factory Factory, params SuppressionParams, opts Options) *Effect {
	opts = opts.withDefaults()
	return &Effect{
		store:   NewConfigStore(params),
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Store exposes the shared parameter store.
func (e *Effect) Store() *ConfigStore { return e.store }

// Options returns the effective options.
func (e *Effect) Options() Options { return e.opts }

// SetParams writes params and returns the sanitized values as stored, with
// the new revision. Running instances pick the change up on their next
// callback.
func (e *Effect) SetParams(params SuppressionParams) (SuppressionParams, uint64) {
	stored := params.Sanitize()
	revision := e.store.Write(stored)
	e.logger.Info("suppression params updated",
		zap.Uint64("revision", revision),
		zap.Float64("atten_lim_db", stored.AttenLimitDB),
		zap.String("reduce_mask", stored.MaskReduction.String()),
	)
	return stored, revision
}

// UpdateParams applies patch atomically and returns the stored params and
// revision.
func (e *Effect) UpdateParams(patch ParamsPatch) (SuppressionParams, uint64) {
	var applied SuppressionParams
	revision := e.store.Update(func(p *SuppressionParams) {
		patch.Apply(p)
		applied = p.Sanitize()
	})
	e.logger.Info("suppression params patched",
		zap.Uint64("revision", revision),
		zap.Float64("atten_lim_db", applied.AttenLimitDB),
		zap.String("reduce_mask", applied.MaskReduction.String()),
	)
	return applied, revision
}

// Params returns the current params and revision.
func (e *Effect) Params() (SuppressionParams, uint64) {
	return e.store.Read()
}

// Instantiate creates a worker-backed instance. Like a host re-instantiating
// an effect, it bumps the revision so existing instances rebuild as well.
func (e *Effect) Instantiate() *Adapter {
	e.store.Update(func(*SuppressionParams) {})
	return NewAdapter(e.store, e.factory, e.opts)
}

// InstantiateInline creates a threadless instance that runs the transform
// inside the callback.
func (e *Effect) InstantiateInline() *InlineAdapter {
	e.store.Update(func(*SuppressionParams) {})
	return NewInlineAdapter(e.store, e.factory, e.opts)
}

// NewProcessor picks the worker or inline instance.
func (e *Effect) NewProcessor(inline bool) Processor {
	if inline {
		return e.InstantiateInline()
	}
	return e.Instantiate()
}
