package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/errors"
)

// State is the bridge lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Request is one call forwarded to the collaborator. Nothing is retained
// after ProcessRequest returns.
type Request struct {
	// Payload is the opaque request JSON.
	Payload string

	// ClientID defaults to novinbridge.DefaultClientID when empty, unless
	// ExplicitClientID is set.
	ClientID string

	// ExplicitClientID passes ClientID through even when it is empty.
	ExplicitClientID bool

	// BrandConfig is a JSON object passed to the collaborator constructor.
	// Only the config of the call that constructs the instance is used.
	BrandConfig string
}

// Status is a point-in-time view of a Bridge for diagnostics.
type Status struct {
	State             State
	Engine            string
	Instance          string
	ConstructFailures int
	LastConstructErr  error
	Home              string
	SearchPath        []string
}

// Bridge embeds one interpreter and forwards requests to a single
// collaborator instance living in it.
//
// ProcessRequest is safe for concurrent use; calls are serialized on the
// bridge lock, which also guards every interpreter call. Initialize and
// Finalize are expected to be called from one goroutine.
type Bridge struct {
	interp novinbridge.Interpreter
	opts   options
	state  atomic.Int32

	gil      sync.Mutex // guards everything below and all interp calls
	settings *settings
	instance instanceSlot
}

// New creates an uninitialized Bridge around interp.
func New(interp novinbridge.Interpreter, opts ...Option) *Bridge {
	return &Bridge{
		interp: interp,
		opts:   buildOptions(opts),
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Status reports lifecycle and instance details. It waits for any
// in-flight call to complete.
func (b *Bridge) Status() Status {
	b.gil.Lock()
	defer b.gil.Unlock()

	st := Status{
		State:             b.State(),
		Engine:            b.interp.Name(),
		Instance:          b.instance.state.String(),
		ConstructFailures: b.instance.failures,
		LastConstructErr:  b.instance.lastErr,
	}
	if b.settings != nil {
		st.Home = b.settings.home
		st.SearchPath = append([]string(nil), b.settings.searchPath...)
	}
	return st
}

func (b *Bridge) logger() *zap.Logger {
	l := b.opts.logger
	if l == nil {
		l = Logger()
	}
	return l.With(zap.String("engine", b.interp.Name()))
}

// Initialize starts the interpreter with an isolated configuration. home is
// the interpreter home and path a colon-separated list of module
// directories; both may be empty. Calling Initialize on an initialized
// bridge is a no-op. Initialize after Finalize starts a fresh interpreter.
func (b *Bridge) Initialize(ctx context.Context, home, path string) error {
	if b.State() == StateInitialized {
		return nil
	}

	b.gil.Lock()
	defer b.gil.Unlock()

	if b.State() == StateInitialized {
		return nil
	}

	log := b.logger()

	s, err := decodeSettings(home, path, b.opts.maxSearchPaths, log)
	if err != nil {
		log.Error("initialize rejected", zap.Error(err))
		return err
	}

	err = b.interp.Start(ctx, novinbridge.StartConfig{
		Home:        s.home,
		SearchPath:  s.searchPath,
		Diagnostics: b.opts.diagnostics,
		Logger:      log,
	})
	if err != nil {
		if errors.KindOf(err) != errors.KindEngineStart {
			err = errors.EngineStart(b.interp.Name(), err)
		}
		log.Error("interpreter start failed", zap.Error(err))
		return err
	}

	b.settings = s
	b.instance = instanceSlot{}
	b.state.Store(int32(StateInitialized))

	log.Info("bridge initialized",
		zap.String("home", s.home),
		zap.Strings("search_path", s.searchPath))
	return nil
}

// ProcessRequest forwards req to the collaborator's process_request method
// and returns its result in a caller-owned Buffer. The collaborator is
// constructed on the first call after Initialize.
func (b *Bridge) ProcessRequest(ctx context.Context, req Request) (resp *Buffer, err error) {
	start := time.Now()
	log := b.logger().With(zap.String("call_id", uuid.NewString()))
	defer func() {
		b.opts.metrics.observeRequest(err, start)
		if err != nil {
			log.Warn("request failed",
				zap.String("kind", string(errors.KindOf(err))),
				zap.Error(err))
		}
	}()

	if b.State() != StateInitialized {
		return nil, errors.NotInitialized(errors.PhaseCall)
	}

	b.gil.Lock()
	defer b.gil.Unlock()

	if b.State() != StateInitialized {
		return nil, errors.NotInitialized(errors.PhaseCall)
	}

	obj, err := b.ensureInstance(ctx, req.BrandConfig, log)
	if err != nil {
		return nil, err
	}

	clientID := req.ClientID
	if clientID == "" && !req.ExplicitClientID {
		clientID = novinbridge.DefaultClientID
	}

	out, err := obj.Call(ctx, novinbridge.MethodName, req.Payload, clientID)
	if err != nil {
		return nil, b.classifyCallErr(err)
	}

	if !utf8.ValidString(out) {
		return nil, errors.EncodingFailed("result is not valid UTF-8")
	}
	if limit := b.opts.maxResponseBytes; limit > 0 && len(out) > limit {
		return nil, errors.OutOfMemory(errors.PhaseMarshal, len(out))
	}

	log.Debug("request processed",
		zap.Int("request_bytes", len(req.Payload)),
		zap.Int("response_bytes", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return newBuffer(out), nil
}

// Prepare constructs the collaborator now instead of on the first request.
// It is a no-op when the instance already exists.
func (b *Bridge) Prepare(ctx context.Context, brandConfig string) error {
	if b.State() != StateInitialized {
		return errors.NotInitialized(errors.PhaseConstruct)
	}

	b.gil.Lock()
	defer b.gil.Unlock()

	if b.State() != StateInitialized {
		return errors.NotInitialized(errors.PhaseConstruct)
	}

	_, err := b.ensureInstance(ctx, brandConfig, b.logger())
	return err
}

// Finalize releases the collaborator and shuts the interpreter down. It is
// a no-op unless the bridge is initialized. An in-flight ProcessRequest
// completes first.
func (b *Bridge) Finalize(ctx context.Context) error {
	if b.State() != StateInitialized {
		return nil
	}

	b.gil.Lock()
	defer b.gil.Unlock()

	if b.State() != StateInitialized {
		return nil
	}
	b.state.Store(int32(StateFinalized))

	log := b.logger()

	if err := b.instance.release(ctx); err != nil {
		log.Warn("release collaborator", zap.Error(err))
	}

	var stopErr error
	if err := b.interp.Shutdown(ctx); err != nil {
		stopErr = errors.EngineStop(b.interp.Name(), err)
		log.Error("interpreter shutdown failed", zap.Error(stopErr))
	}

	b.settings = nil
	log.Info("bridge finalized")
	return stopErr
}

// ensureInstance must be called with the lock held.
func (b *Bridge) ensureInstance(ctx context.Context, brandConfig string, log *zap.Logger) (novinbridge.Object, error) {
	if b.instance.built() {
		return b.instance.obj, nil
	}

	obj, err := b.construct(ctx, brandConfig)
	b.opts.metrics.observeConstruction(err)
	if err != nil {
		b.instance.fail(err)
		log.Warn("collaborator construction failed",
			zap.Int("failures", b.instance.failures),
			zap.Error(err))
		return nil, err
	}

	b.instance.set(obj)
	log.Info("collaborator constructed",
		zap.String("module", novinbridge.ModuleName),
		zap.String("class", novinbridge.ClassName),
		zap.Bool("brand_config", brandConfig != ""))
	return obj, nil
}

func (b *Bridge) construct(ctx context.Context, brandConfig string) (novinbridge.Object, error) {
	cfg, err := parseBrandConfig(brandConfig)
	if err != nil {
		return nil, err
	}

	obj, err := b.interp.Construct(ctx, novinbridge.ModuleName, novinbridge.ClassName, cfg)
	if err != nil {
		if errors.KindOf(err) == errors.KindBridgeInitFailed {
			return nil, err
		}
		return nil, errors.New(errors.PhaseConstruct, errors.KindBridgeInitFailed).
			Engine(b.interp.Name()).
			Module(novinbridge.ModuleName).
			Detail("construct %s", novinbridge.ClassName).
			Cause(err).
			Build()
	}
	return obj, nil
}

func (b *Bridge) classifyCallErr(err error) error {
	switch errors.KindOf(err) {
	case errors.KindMethodMissing,
		errors.KindProcessingFailed,
		errors.KindEncodingFailed,
		errors.KindOutOfMemory:
		return err
	}
	return errors.New(errors.PhaseCall, errors.KindProcessingFailed).
		Engine(b.interp.Name()).
		Method(novinbridge.MethodName).
		Detail("collaborator raised").
		Cause(err).
		Build()
}

// parseBrandConfig decodes a brand config JSON object. Empty input and a
// JSON null both mean "no config". Numbers are kept as json.Number.
func parseBrandConfig(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, brandConfigErr(err, "decode brand config")
	}
	if dec.More() {
		return nil, brandConfigErr(nil, "trailing data after brand config")
	}

	switch cfg := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return cfg, nil
	default:
		return nil, brandConfigErr(nil, "brand config must be a JSON object")
	}
}

func brandConfigErr(cause error, detail string) error {
	return errors.New(errors.PhaseConstruct, errors.KindBridgeInitFailed).
		Module(novinbridge.ModuleName).
		Detail(detail).
		Cause(cause).
		Build()
}
