package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/yndnr/sessionkeep-go/internal/cli/config"
	"github.com/yndnr/sessionkeep-go/internal/cli/output"
	"github.com/yndnr/sessionkeep-go/internal/core/service"
	"github.com/yndnr/sessionkeep-go/internal/identity"
	"github.com/yndnr/sessionkeep-go/internal/infra/shutdown"
	"github.com/yndnr/sessionkeep-go/internal/storage"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/metric"
	"github.com/yndnr/sessionkeep-go/pkg/token"
)

// Runtime holds what one invocation needs. The session side (identity
// client, store, controller) is built on first use so that commands such
// as version never touch the token store.
type Runtime struct {
	Config     *config.CLIConfig
	ConfigPath string
	Format     output.Format
	Logger     logger.Logger
	Metrics    *metric.Registry
	Shutdown   *shutdown.Handler

	in     *bufio.Reader
	stdin  io.Reader
	out    io.Writer
	errOut io.Writer

	once       sync.Once
	initErr    error
	client     *identity.Client
	store      *storage.Fallback
	storage    string
	controller *service.SessionController
	auth       *service.AuthContext
}

func newRuntime(cfg *config.CLIConfig, path string, in io.Reader, out, errOut io.Writer) (*Runtime, error) {
	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = errOut
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)

	return &Runtime{
		Config:     cfg,
		ConfigPath: path,
		Format:     format,
		Logger:     log,
		Metrics:    metric.NewRegistry(),
		Shutdown:   shutdown.NewHandler(5*time.Second, shutdown.WithLogger(log.Slog())),
		in:         bufio.NewReader(in),
		stdin:      in,
		out:        out,
		errOut:     errOut,
	}, nil
}

// Auth returns the session facade, wiring it on first call.
func (rt *Runtime) Auth() (*service.AuthContext, error) {
	rt.once.Do(func() {
		rt.initErr = rt.wire()
	})
	return rt.auth, rt.initErr
}

func (rt *Runtime) wire() error {
	cfg := rt.Config

	client, err := identity.NewClient(cfg.IdentityClientConfig(),
		identity.WithLogger(rt.Logger),
		identity.WithMetrics(rt.Metrics),
	)
	if err != nil {
		return err
	}
	rt.client = client
	rt.Shutdown.OnShutdownFunc("identity client", client.Close)

	kv, mode := rt.openKV()
	rt.Shutdown.OnShutdownFunc("token store", kv.Close)
	rt.storage = mode

	opts := []storage.TokenStoreOption{storage.WithStoreLogger(rt.Logger)}
	if seal := cfg.SealConfig(); seal != nil {
		cipher, err := storage.NewCipher(*seal)
		if err != nil {
			return err
		}
		opts = append(opts, storage.WithCipher(cipher))
		rt.storage += ", sealed"
	}
	rt.store = storage.NewFallback(storage.NewTokenStore(kv, opts...), rt.Logger, rt.Metrics)

	rt.controller = service.NewSessionController(client, rt.store,
		service.WithLogger(rt.Logger),
		service.WithMetrics(rt.Metrics),
		service.WithBusyPolicy(cfg.BusyPolicy()),
	)
	rt.auth = service.NewAuthContext(rt.controller)
	return nil
}

// openKV opens the configured engine. A badger directory that cannot be
// opened (usually locked by a running REPL) falls back to memory so the
// command still works for this process.
func (rt *Runtime) openKV() (storage.KV, string) {
	kvCfg := rt.Config.KVConfig()
	kv, err := storage.Open(kvCfg, rt.Logger.Slog())
	if err != nil {
		rt.Logger.Warn("token store unavailable, session will not persist", "dir", kvCfg.Dir, "error", err)
		return storage.NewMemoryEngine(), storage.EngineMemory + " (fallback)"
	}
	if badger, ok := kv.(*storage.BadgerEngine); ok {
		badger.RegisterMetrics(rt.Metrics.Registerer())
	}
	return kv, kvCfg.Engine
}

// View describes the current session for whoami.
func (rt *Runtime) View(ctx context.Context) output.SessionView {
	v := output.NewSessionView(rt.controller.Session(), "")
	if tokens, err := rt.store.Load(ctx); err == nil && tokens.HasAccess() {
		v.Fingerprint = token.Fingerprint(tokens.Access)
	}
	v.Storage = rt.storage
	if rt.store.Degraded() {
		v.Storage = storage.EngineMemory + " (degraded)"
	}
	return v
}

// Close runs the shutdown hooks.
func (rt *Runtime) Close() error {
	return rt.Shutdown.Shutdown()
}

// Print writes v in the selected format.
func (rt *Runtime) Print(v any) error {
	return output.NewFormatter(rt.Format).Format(rt.out, v)
}

// Say writes a human message; machine formats stay clean.
func (rt *Runtime) Say(format string, args ...any) {
	if rt.Format.Machine() {
		return
	}
	fmt.Fprintf(rt.out, format+"\n", args...)
}

// stdinTerminal returns the terminal file descriptor behind stdin, if any.
func (rt *Runtime) stdinTerminal() (int, bool) {
	f, ok := rt.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

// ReadLine prompts (on stderr) and reads one line from stdin.
func (rt *Runtime) ReadLine(prompt string) (string, error) {
	fmt.Fprint(rt.errOut, prompt)
	line, err := rt.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadSecret reads a password without echo on a terminal, or a plain
// line when stdin is piped.
func (rt *Runtime) ReadSecret(prompt string) (string, error) {
	fd, ok := rt.stdinTerminal()
	if !ok {
		return rt.ReadLine(prompt)
	}

	fmt.Fprint(rt.errOut, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(rt.errOut)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// spin runs fn with a spinner on stderr when it is a terminal.
func (rt *Runtime) spin(message string, fn func()) {
	s := output.NewSpinner(rt.errOut, message)
	s.Start()
	defer s.Stop()
	fn()
}
