package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	sessionx "github.com/Ngouala34/printeasy-sessionx"
)

type app struct {
	configPath string
	verbose    bool
	gateway    *sessionx.Gateway
	cfg        sessionx.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "printeasy-session",
		Short:         "Manage a PrintEasy API session from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config (env CONFIG_PATH)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.loginCmd(),
		a.registerCmd(),
		a.refreshCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.getCmd(),
	)
	return root
}

func (a *app) init() error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := sessionx.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	gateway, err := sessionx.NewGateway(cfg, sessionx.WithLogger(log))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.gateway = gateway
	return nil
}

func (a *app) loginCmd() *cobra.Command {
	var creds sessionx.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("PRINTEASY_PASSWORD")
			}
			if _, err := a.gateway.Login(cmd.Context(), creds); err != nil {
				return err
			}
			printIdentity(cmd.OutOrStdout(), a.gateway.State().Current())
			return nil
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", os.Getenv("PRINTEASY_EMAIL"), "account email (env PRINTEASY_EMAIL)")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password (env PRINTEASY_PASSWORD)")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var reg sessionx.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (does not sign in)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reg.PasswordConfirm == "" {
				reg.PasswordConfirm = reg.Password
			}
			user, err := a.gateway.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "account created for %s\n", user.Email)
			fmt.Fprintln(cmd.OutOrStdout(), "run `printeasy-session login` to sign in")
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&reg.Password, "password", "", "password")
	cmd.Flags().StringVar(&reg.PasswordConfirm, "password-confirm", "", "password confirmation (defaults to --password)")
	return cmd
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := a.gateway.RefreshToken(cmd.Context())
			if err != nil {
				return err
			}
			if exp, ok := sessionx.ExpiresAt(pair.AccessToken); ok {
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "session refreshed, access token valid until %s\n", exp.Format(time.RFC3339))
				return nil
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "session refreshed")
			return nil
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.gateway.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity := a.gateway.State().Current()
			if identity == nil || !a.gateway.IsLoggedIn() {
				color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "not signed in")
				return nil
			}
			printIdentity(cmd.OutOrStdout(), identity)
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Send an authenticated GET to the API and print the body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimRight(a.cfg.BaseURL, "/") + "/" + strings.TrimLeft(args[0], "/")
			req, err := newGet(cmd.Context(), url)
			if err != nil {
				return err
			}
			resp, err := a.gateway.Client().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			status := color.New(color.FgGreen)
			if resp.StatusCode >= 400 {
				status = color.New(color.FgRed)
			}
			status.Fprintln(cmd.ErrOrStderr(), resp.Status)
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
}

func printIdentity(w io.Writer, identity *sessionx.Identity) {
	if identity == nil {
		return
	}
	bold := color.New(color.Bold)
	bold.Fprintln(w, "== PrintEasy session ==")
	fmt.Fprintf(w, "id        : %s\n", identity.ID)
	fmt.Fprintf(w, "email     : %s\n", identity.Email)
	fmt.Fprintf(w, "role      : %s\n", identity.Role)
	fmt.Fprintf(w, "active    : %t\n", identity.IsActive)
	if identity.Name != "" {
		fmt.Fprintf(w, "name      : %s\n", identity.Name)
	}
	if identity.Claims != nil && !identity.Claims.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "expires_at: %s\n", identity.Claims.ExpiresAt.Format(time.RFC3339))
	}
}

func userMessage(err error) string {
	var sessErr *sessionx.Error
	if errors.As(err, &sessErr) {
		return sessErr.Message
	}
	return err.Error()
}

func newGet(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
