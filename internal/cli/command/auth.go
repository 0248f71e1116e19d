package command

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
)

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Sign in and store the session",
		ArgsUsage: "[USERNAME]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "password-stdin",
				Usage: "Read the password from stdin without prompting",
			},
		},
		Action: loginAction,
	}
}

// LogoutCommand returns the logout command.
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Sign out, clear stored tokens and revoke the session",
		Action: logoutAction,
	}
}

// RegisterCommand returns the register command.
func RegisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "Create an account (does not sign in)",
		ArgsUsage: "[USERNAME] [EMAIL]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "password-stdin",
				Usage: "Read the password from stdin without prompting",
			},
		},
		Action: registerAction,
	}
}

// WhoamiCommand returns the whoami command. It exits 1 when no one is signed in.
func WhoamiCommand() *cli.Command {
	return &cli.Command{
		Name:    "whoami",
		Aliases: []string{"status"},
		Usage:   "Show the stored session, revalidating it first",
		Action:  whoamiAction,
	}
}

func loginAction(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}
	auth, err := rt.Auth()
	if err != nil {
		return err
	}

	username := strings.TrimSpace(c.Args().First())
	if username == "" {
		if username, err = rt.ReadLine("Username: "); err != nil {
			return err
		}
	}
	password, err := readPassword(rt, c.Bool("password-stdin"), "Password: ")
	if err != nil {
		return err
	}

	var (
		ok  bool
		msg string
	)
	rt.spin("Signing in", func() {
		ok, msg = auth.Login(c.Context, username, password)
	})
	if !ok {
		return cli.Exit(msg, 1)
	}

	rt.Say("Signed in as %s.", auth.User().DisplayName())
	if rt.Format.Machine() {
		return rt.Print(rt.View(c.Context))
	}
	return nil
}

func logoutAction(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}
	auth, err := rt.Auth()
	if err != nil {
		return err
	}

	rt.spin("Signing out", func() {
		auth.Logout(c.Context)
	})
	rt.Say("Signed out.")
	return nil
}

func registerAction(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}
	auth, err := rt.Auth()
	if err != nil {
		return err
	}

	username := strings.TrimSpace(c.Args().Get(0))
	if username == "" {
		if username, err = rt.ReadLine("Username: "); err != nil {
			return err
		}
	}
	email := strings.TrimSpace(c.Args().Get(1))
	if email == "" {
		if email, err = rt.ReadLine("Email: "); err != nil {
			return err
		}
	}

	stdin := c.Bool("password-stdin")
	password, err := readPassword(rt, stdin, "Password: ")
	if err != nil {
		return err
	}
	confirm := password
	if _, tty := rt.stdinTerminal(); tty && !stdin {
		if confirm, err = rt.ReadSecret("Confirm password: "); err != nil {
			return err
		}
	}

	reg := &domain.Registration{Username: username, Email: email, Password: password, PasswordConfirm: confirm}
	var regErr error
	rt.spin("Creating account", func() {
		regErr = auth.Controller().Register(c.Context, reg)
	})
	if regErr != nil {
		return cli.Exit(domain.UserMessage(regErr), 1)
	}

	rt.Say("Account %s created. Run 'sessionkeep login %s' to sign in.", username, username)
	return nil
}

func whoamiAction(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}
	auth, err := rt.Auth()
	if err != nil {
		return err
	}

	rt.spin("Checking session", func() {
		auth.Controller().Recover(c.Context)
	})
	if err := rt.Print(rt.View(c.Context)); err != nil {
		return err
	}
	if !auth.IsAuthenticated() {
		return cli.Exit("", 1)
	}
	return nil
}

func readPassword(rt *Runtime, fromStdin bool, prompt string) (string, error) {
	if fromStdin {
		return rt.ReadLine("")
	}
	return rt.ReadSecret(prompt)
}
