package bridge

import (
	"context"
	"fmt"
	"sync"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/errors"
)

// fakeInterp is a scripted Interpreter. handler plays process_request.
type fakeInterp struct {
	mu sync.Mutex

	startErr     error
	shutdownErr  error
	constructErr []error // consumed one per Construct call
	noMethod     bool
	handler      func(req, clientID string) (string, error)

	starts     int
	shutdowns  int
	constructs int
	calls      int
	released   int
	lastStart  novinbridge.StartConfig
	configs    []map[string]any
	active     int
	maxActive  int
}

func (f *fakeInterp) Name() string { return "fake" }

func (f *fakeInterp) Start(_ context.Context, cfg novinbridge.StartConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.lastStart = cfg
	return nil
}

func (f *fakeInterp) Construct(_ context.Context, module, class string, config map[string]any) (novinbridge.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructs++
	if module != novinbridge.ModuleName || class != novinbridge.ClassName {
		return nil, fmt.Errorf("unexpected %s.%s", module, class)
	}
	if len(f.constructErr) > 0 {
		err := f.constructErr[0]
		f.constructErr = f.constructErr[1:]
		if err != nil {
			return nil, err
		}
	}
	f.configs = append(f.configs, config)
	return &fakeObject{interp: f}, nil
}

func (f *fakeInterp) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return f.shutdownErr
}

type fakeCounts struct {
	starts, shutdowns, constructs, calls, released, maxActive int
}

func (f *fakeInterp) snapshot() fakeCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeCounts{
		starts:     f.starts,
		shutdowns:  f.shutdowns,
		constructs: f.constructs,
		calls:      f.calls,
		released:   f.released,
		maxActive:  f.maxActive,
	}
}

type fakeObject struct {
	interp *fakeInterp
}

func (o *fakeObject) Call(_ context.Context, method string, args ...string) (string, error) {
	f := o.interp
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	noMethod, handler := f.noMethod, f.handler
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if noMethod {
		return "", errors.MethodMissing(method, fmt.Errorf("attempt to call a nil value (method %q)", method))
	}
	if handler == nil {
		return args[0], nil
	}
	return handler(args[0], args[1])
}

func (o *fakeObject) Release(context.Context) error {
	o.interp.mu.Lock()
	defer o.interp.mu.Unlock()
	o.interp.released++
	return nil
}
