package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yndnr/sessionkeep-go/internal/cli/output"
	"github.com/yndnr/sessionkeep-go/internal/core/domain"
	"github.com/yndnr/sessionkeep-go/internal/core/service"
)

// DefaultPrompt is shown before each command.
const DefaultPrompt = "sessionkeep> "

var commands = []string{"login", "logout", "register", "whoami", "status", "history", "help", "exit", "quit"}

// Config configures a REPL.
type Config struct {
	Input  io.Reader
	Output io.Writer
	Prompt string

	// HistoryFile persists history across runs; empty keeps it in memory.
	HistoryFile string

	// ReadSecret reads a password without echo. When nil, passwords are
	// read as plain lines from Input.
	ReadSecret func(prompt string) (string, error)

	// View renders the session for whoami; when nil only the status and
	// user are shown.
	View func(ctx context.Context) output.SessionView
}

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	auth       *service.AuthContext
	in         *bufio.Reader
	out        io.Writer
	prompt     string
	readSecret func(string) (string, error)
	view       func(context.Context) output.SessionView
	completer  *Completer
	history    *History
}

// New creates a REPL driving auth.
func New(auth *service.AuthContext, cfg Config) *REPL {
	r := &REPL{
		auth:       auth,
		in:         bufio.NewReader(cfg.Input),
		out:        cfg.Output,
		prompt:     cfg.Prompt,
		readSecret: cfg.ReadSecret,
		view:       cfg.View,
		completer:  NewCompleter(commands...),
		history:    NewHistory(cfg.HistoryFile, DefaultHistorySize),
	}
	if r.prompt == "" {
		r.prompt = DefaultPrompt
	}
	return r
}

// errExit ends the loop.
var errExit = errors.New("exit")

// Run recovers the stored session, then reads commands until exit, EOF or
// ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.history.Load(); err != nil {
		fmt.Fprintf(r.out, "warning: history not loaded: %v\n", err)
	}
	defer r.history.Save()

	ctrl := r.auth.Controller()
	s := ctrl.Recover(ctx)
	r.printSession(s)

	unsubscribe := ctrl.Subscribe(func(s domain.Session) {
		fmt.Fprintf(r.out, "-- session %s\n", s.Status)
	})
	defer unsubscribe()

	for {
		line, err := r.readLine(ctx, r.prompt)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.history.Add(line)

		if err := r.execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

type lineResult struct {
	line string
	err  error
}

// readLine reads one line, giving up when ctx is done. A final line
// without a newline is returned before EOF.
func (r *REPL) readLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)

	ch := make(chan lineResult, 1)
	go func() {
		line, err := r.in.ReadString('\n')
		ch <- lineResult{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && (res.err != io.EOF || res.line == "") {
			return "", res.err
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	}
}

func (r *REPL) readPassword(ctx context.Context, prompt string) (string, error) {
	if r.readSecret != nil {
		return r.readSecret(prompt)
	}
	return r.readLine(ctx, prompt)
}

// arg returns args[i], prompting for it when absent.
func (r *REPL) arg(ctx context.Context, args []string, i int, prompt string) (string, error) {
	if i < len(args) {
		return args[i], nil
	}
	v, err := r.readLine(ctx, prompt)
	return strings.TrimSpace(v), err
}

func (r *REPL) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "exit", "quit":
		return errExit
	case "help":
		r.printHelp()
	case "history":
		for i, entry := range r.history.Entries() {
			fmt.Fprintf(r.out, "%4d  %s\n", i+1, entry)
		}
	case "whoami", "status":
		r.printWhoami(ctx)
	case "login":
		return r.login(ctx, args)
	case "register":
		return r.register(ctx, args)
	case "logout":
		if !r.auth.IsAuthenticated() {
			fmt.Fprintln(r.out, "Not signed in.")
			return nil
		}
		r.auth.Logout(ctx)
		fmt.Fprintln(r.out, "Signed out.")
	default:
		if s := r.completer.Suggest(cmd); len(s) > 0 {
			return fmt.Errorf("unknown command %q, did you mean: %s", cmd, strings.Join(s, ", "))
		}
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (r *REPL) login(ctx context.Context, args []string) error {
	username, err := r.arg(ctx, args, 0, "Username: ")
	if err != nil {
		return err
	}
	password, err := r.readPassword(ctx, "Password: ")
	if err != nil {
		return err
	}

	ok, msg := r.auth.Login(ctx, username, password)
	if !ok {
		fmt.Fprintln(r.out, msg)
		return nil
	}
	fmt.Fprintf(r.out, "Signed in as %s.\n", r.auth.User().DisplayName())
	return nil
}

func (r *REPL) register(ctx context.Context, args []string) error {
	username, err := r.arg(ctx, args, 0, "Username: ")
	if err != nil {
		return err
	}
	email, err := r.arg(ctx, args, 1, "Email: ")
	if err != nil {
		return err
	}
	password, err := r.readPassword(ctx, "Password: ")
	if err != nil {
		return err
	}
	confirm, err := r.readPassword(ctx, "Confirm password: ")
	if err != nil {
		return err
	}

	reg := &domain.Registration{Username: username, Email: email, Password: password, PasswordConfirm: confirm}
	if err := r.auth.Controller().Register(ctx, reg); err != nil {
		fmt.Fprintln(r.out, domain.UserMessage(err))
		return nil
	}
	fmt.Fprintf(r.out, "Account %s created. Use login to sign in.\n", username)
	return nil
}

func (r *REPL) printWhoami(ctx context.Context) {
	if r.view != nil {
		r.view(ctx).Table().RenderWithOptions(r.out, true)
		return
	}
	r.printSession(r.auth.Controller().Session())
}

func (r *REPL) printSession(s domain.Session) {
	if s.IsAuthenticated() {
		fmt.Fprintf(r.out, "Signed in as %s.\n", s.User.DisplayName())
		return
	}
	fmt.Fprintln(r.out, "Not signed in.")
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.out, `Commands:
  login [username]            sign in
  register [username] [email] create an account
  logout                      sign out and revoke the session
  whoami, status              show the current session
  history                     show command history
  exit, quit                  leave the shell
`)
}
