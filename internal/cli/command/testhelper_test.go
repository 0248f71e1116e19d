package command

import (
	"bytes"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionkeep-go/internal/identity/identitytest"
)

// harness runs the CLI against an in-process identity endpoint with its
// home directory (config, badger store, history) under a temp dir.
type harness struct {
	t      *testing.T
	server *identitytest.Server
	home   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv := identitytest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser("alice", "alice@x.com", "pw1")

	home := t.TempDir()
	t.Setenv("SESSIONKEEP_HOME", home)
	t.Setenv("SESSIONKEEP_IDENTITY_BASE_URL", srv.BaseURL())
	t.Setenv("SESSIONKEEP_IDENTITY_RATE_LIMIT", "0")
	t.Setenv("SESSIONKEEP_LOG_LEVEL", "error")

	return &harness{t: t, server: srv, home: home}
}

type result struct {
	stdout string
	stderr string
	err    error
}

func (r result) exitCode() int {
	if r.err == nil {
		return 0
	}
	if ec, ok := r.err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return -1
}

// run executes one invocation, like a separate process would.
func (h *harness) run(stdin string, args ...string) result {
	h.t.Helper()

	var stdout, stderr bytes.Buffer
	app := App()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"sessionkeep"}, args...))
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	res := h.run(stdin, args...)
	if res.err != nil {
		h.t.Fatalf("sessionkeep %s: %v\nstderr: %s", strings.Join(args, " "), res.err, res.stderr)
	}
	return res.stdout
}
