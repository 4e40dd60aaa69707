package pyproc

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/errors"
)

// Name identifies this engine.
const Name = "python"

const (
	defaultExecutable      = "python3"
	defaultStartTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

//go:embed bootstrap.py
var bootstrap string

// errExited is returned once the child process is gone.
var errExited = stderrors.New("python process exited")

// Config holds configuration for the python engine.
type Config struct {
	// Executable is the interpreter to launch. Empty means <home>/bin/python3
	// when it exists, else python3 from PATH.
	Executable string

	// StartTimeout bounds the wait for the bootstrap handshake.
	// Default: 30s.
	StartTimeout time.Duration

	// ShutdownTimeout bounds the wait for a clean exit before the child is
	// killed. Default: 5s.
	ShutdownTimeout time.Duration
}

// Engine implements novinbridge.Interpreter with a python3 child process.
// It is not safe for concurrent use.
type Engine struct {
	cfg Config

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	enc     *json.Encoder
	gen     uint64
	nextID  uint64
	dead    bool
	version string
	log     *zap.Logger
}

var _ novinbridge.Interpreter = (*Engine)(nil)

// New creates a python engine. cfg may be nil.
func New(cfg *Config) *Engine {
	e := &Engine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	if e.cfg.StartTimeout <= 0 {
		e.cfg.StartTimeout = defaultStartTimeout
	}
	if e.cfg.ShutdownTimeout <= 0 {
		e.cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return e
}

// Name implements novinbridge.Interpreter.
func (e *Engine) Name() string { return Name }

// Version returns the interpreter version reported at startup.
func (e *Engine) Version() string { return e.version }

// Start launches the child and waits for the bootstrap handshake.
func (e *Engine) Start(ctx context.Context, cfg novinbridge.StartConfig) error {
	if e.cmd != nil {
		return errors.New(errors.PhaseEngine, errors.KindEngineStart).
			Engine(Name).
			Detail("already started").
			Build()
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	diag := cfg.Diagnostics
	if diag == nil {
		diag = io.Discard
	}

	exe, err := e.executable(cfg.Home)
	if err != nil {
		return errors.EngineStart(Name, err)
	}

	args := append([]string{"-s", "-B", "-c", bootstrap}, cfg.SearchPath...)
	cmd := exec.Command(exe, args...)
	cmd.Env = environment(cfg.Home)
	cmd.Stderr = diag

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.EngineStart(Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.EngineStart(Name, err)
	}
	if err := cmd.Start(); err != nil {
		return errors.EngineStart(Name, err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)
	e.enc = json.NewEncoder(stdin)
	e.dead = false
	e.gen++
	e.log = log

	startCtx, cancel := context.WithTimeout(ctx, e.cfg.StartTimeout)
	defer cancel()

	hello, err := e.read(startCtx)
	if err == nil && !hello.Ready {
		err = fmt.Errorf("unexpected handshake %+v", hello)
	}
	if err != nil {
		e.kill()
		_ = stdin.Close()
		_ = cmd.Wait()
		e.cmd = nil
		return errors.EngineStart(Name, err)
	}

	e.version = hello.Version
	log.Debug("python process started",
		zap.String("executable", exe),
		zap.String("version", hello.Version),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Construct imports module in the child and instantiates class.
func (e *Engine) Construct(ctx context.Context, module, class string, config map[string]any) (novinbridge.Object, error) {
	if e.cmd == nil {
		return nil, errors.NotInitialized(errors.PhaseConstruct)
	}

	r, err := e.roundTrip(ctx, &request{
		Op:        "construct",
		Module:    module,
		Class:     class,
		Config:    config,
		HasConfig: config != nil,
	})
	if err != nil {
		return nil, errors.ConstructorFailed(module, class, err)
	}
	if !r.OK {
		return nil, r.asError(module, class, "")
	}
	return &object{engine: e, gen: e.gen, handle: r.Handle}, nil
}

// Shutdown asks the child to exit and waits for it, killing it after
// ShutdownTimeout.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cmd == nil {
		return nil
	}

	if !e.dead {
		stopCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		if _, err := e.roundTrip(stopCtx, &request{Op: "shutdown"}); err != nil {
			e.log.Warn("python shutdown request failed", zap.Error(err))
		}
		cancel()
	}
	_ = e.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(e.cfg.ShutdownTimeout):
		_ = e.cmd.Process.Kill()
		err = <-done
	}

	if e.dead {
		// killed on purpose; the exit status carries no information
		err = nil
	}
	e.cmd = nil
	e.dead = true
	e.log.Debug("python process stopped", zap.Error(err))
	return err
}

func (e *Engine) executable(home string) (string, error) {
	if e.cfg.Executable != "" {
		return exec.LookPath(e.cfg.Executable)
	}
	if home != "" {
		p := filepath.Join(home, "bin", defaultExecutable)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return exec.LookPath(defaultExecutable)
}

// environment is the complete child environment.
func environment(home string) []string {
	env := []string{
		"PYTHONNOUSERSITE=1",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
		"PYTHONUTF8=1",
	}
	if home != "" {
		env = append(env, "PYTHONHOME="+home)
	}
	return env
}

func (e *Engine) roundTrip(ctx context.Context, req *request) (*reply, error) {
	if e.dead {
		return nil, errExited
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.nextID++
	req.ID = e.nextID
	if err := e.enc.Encode(req); err != nil {
		e.kill()
		return nil, fmt.Errorf("write request: %w", err)
	}

	r, err := e.read(ctx)
	if err != nil {
		e.kill()
		return nil, err
	}
	if r.ID == nil || *r.ID != req.ID {
		e.kill()
		return nil, fmt.Errorf("protocol desync: sent id %d, got %+v", req.ID, r)
	}
	return r, nil
}

type readResult struct {
	r   *reply
	err error
}

// read waits for one reply line. On cancellation the pending read is
// abandoned; the caller must kill the child.
func (e *Engine) read(ctx context.Context) (*reply, error) {
	ch := make(chan readResult, 1)
	go func() {
		line, err := e.stdout.ReadBytes('\n')
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				err = errExited
			}
			ch <- readResult{err: err}
			return
		}
		var r reply
		if err := json.Unmarshal(line, &r); err != nil {
			ch <- readResult{err: fmt.Errorf("decode reply: %w", err)}
			return
		}
		ch <- readResult{r: &r}
	}()

	select {
	case res := <-ch:
		return res.r, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) kill() {
	if e.dead || e.cmd == nil {
		return
	}
	e.dead = true
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
}

type object struct {
	engine *Engine
	gen    uint64
	handle int64
}

func (o *object) live() bool {
	return o.handle != 0 && o.engine.cmd != nil && o.engine.gen == o.gen
}

// Call invokes the method in the child.
func (o *object) Call(ctx context.Context, method string, args ...string) (string, error) {
	if !o.live() {
		return "", errors.NotInitialized(errors.PhaseCall)
	}

	r, err := o.engine.roundTrip(ctx, &request{
		Op:     "call",
		Handle: o.handle,
		Method: method,
		Args:   args,
	})
	if err != nil {
		return "", errors.ProcessingFailed(method, err)
	}
	if !r.OK {
		return "", r.asError("", "", method)
	}
	if r.Result == nil {
		return "", errors.EncodingFailed("reply carries no result")
	}
	return *r.Result, nil
}

// Release drops the child-side reference.
func (o *object) Release(ctx context.Context) error {
	if !o.live() {
		o.handle = 0
		return nil
	}
	handle := o.handle
	o.handle = 0
	_, err := o.engine.roundTrip(ctx, &request{Op: "release", Handle: handle})
	return err
}
