package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/pixelflare/pixelflare/internal/auth"
	"github.com/pixelflare/pixelflare/internal/batch"
	"github.com/pixelflare/pixelflare/internal/config"
	"github.com/pixelflare/pixelflare/internal/enhance"
	"github.com/pixelflare/pixelflare/internal/export"
	"github.com/pixelflare/pixelflare/internal/library"
	"github.com/pixelflare/pixelflare/internal/repl"
	"github.com/pixelflare/pixelflare/internal/security"
	"github.com/pixelflare/pixelflare/internal/store"
	"github.com/pixelflare/pixelflare/internal/store/firestore"
	"github.com/pixelflare/pixelflare/internal/store/sqlite"
	"github.com/pixelflare/pixelflare/internal/studio"
	"github.com/pixelflare/pixelflare/internal/synthesis"
	"github.com/pixelflare/pixelflare/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagStyle       string
	flagQuery       string
	flagStyleID     string
	flagOutput      string
	flagDelayMs     int
	flagStopOnError bool
)

type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	LoadConfig   func() (*config.Config, error)
	OpenStore    func(ctx context.Context, cfg *config.Config) (store.Store, error)
	NewAuth      func(cfg *config.Config, configDir string) (auth.Authenticator, error)
	ReadPassword func(in io.Reader) (string, error)
	NewLogger    func() (*zap.Logger, error)
}

func DefaultApp() *App {
	return &App{
		In:           os.Stdin,
		Out:          os.Stdout,
		Err:          os.Stderr,
		LoadConfig:   config.Load,
		OpenStore:    openStore,
		NewAuth:      newAuthenticator,
		ReadPassword: readPassword,
		NewLogger:    func() (*zap.Logger, error) { return zap.NewProduction() },
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		return firestore.NewStore(ctx, cfg.ProjectID)
	default:
		return sqlite.NewStore(cfg.DatabasePath())
	}
}

func newAuthenticator(cfg *config.Config, configDir string) (auth.Authenticator, error) {
	if cfg.AuthAPIKey != "" {
		return auth.NewFirebase(&auth.FirebaseConfig{
			APIKey:  cfg.AuthAPIKey,
			BaseURL: cfg.AuthBaseURL,
		})
	}
	return auth.NewLocal(configDir)
}

// readPassword reads without echo on a terminal, or a plain line when
// stdin is piped.
func readPassword(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pixelflare",
		Short: "Chat-based AI image generation studio",
		Long: `pixelflare is an interactive studio for generating images from prompts.

Sessions keep a transcript of prompts and results, style presets shape
the output, and favorite images can be saved to a searchable library.

Examples:
  pixelflare
  pixelflare --style cinematic
  pixelflare library --query fox
  pixelflare login alice@example.com`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runStudio(ctx, app)
		},
	}

	cmd.Flags().StringVar(&flagStyle, "style", "", "initial style preset (try 'style' in the shell to list)")

	cmd.AddCommand(
		newSessionsCmd(app),
		newLibraryCmd(app),
		newExportCmd(app),
		newBatchCmd(app),
		newLoginCmd(app, "login"),
		newLoginCmd(app, "signup"),
		newLogoutCmd(app),
		newWhoamiCmd(app),
	)

	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// resolveUser returns the identity studio data is scoped to: the
// persisted sign-in for credential auth, the device identity otherwise.
func resolveUser(ctx context.Context, cfg *config.Config, authn auth.Authenticator, configDir string) (*models.User, error) {
	if cfg.AuthAPIKey != "" {
		user, err := auth.LoadSession(configDir)
		if err != nil {
			return nil, fmt.Errorf("not signed in: run 'pixelflare login <email>' first")
		}
		return user, nil
	}
	return authn.SignIn(ctx, "", "")
}

// setup wires the pieces shared by every command.
func setup(ctx context.Context, app *App) (*config.Config, store.Store, *models.User, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, nil, nil, err
	}
	authn, err := app.NewAuth(cfg, configDir)
	if err != nil {
		return nil, nil, nil, err
	}
	user, err := resolveUser(ctx, cfg, authn, configDir)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening %s store: %w", cfg.Backend, err)
	}
	return cfg, st, user, nil
}

func runStudio(ctx context.Context, app *App) error {
	if flagStyle != "" {
		if _, ok := models.DefaultPresets().Get(flagStyle); !ok {
			return fmt.Errorf("unknown style %q", flagStyle)
		}
	}

	cfg, st, user, err := setup(ctx, app)
	if err != nil {
		return err
	}
	defer st.Close()

	logger, err := app.NewLogger()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	mgr, err := buildManager(cfg, st, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	shell := repl.New(&repl.Config{
		In:       app.In,
		Out:      app.Out,
		Err:      app.Err,
		Studio:   mgr,
		Library:  library.New(st, logger),
		Exporter: export.New(security.DefaultURLPolicy()),
		UserID:   user.ID,
		StyleID:  flagStyle,
	})
	return shell.Run(ctx)
}

func buildManager(cfg *config.Config, st store.Store, logger *zap.Logger) (*studio.Manager, error) {
	synth := synthesis.New(&synthesis.Config{
		BaseURL:    cfg.SynthesisBaseURL,
		TimeoutSec: cfg.SynthesisTimeoutSec,
		Width:      cfg.ImageWidth,
		Height:     cfg.ImageHeight,
	})

	var enhancer studio.Enhancer
	if cfg.EnhanceEnabled() {
		client, err := enhance.New(&enhance.Config{
			APIKey:  cfg.EnhanceAPIKey,
			BaseURL: cfg.EnhanceBaseURL,
			Model:   cfg.EnhanceModel,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing prompt enhancer: %w", err)
		}
		enhancer = client
	}

	return studio.NewManager(&studio.Config{
		Store:    st,
		Synth:    synth,
		Enhancer: enhancer,
		Logger:   logger,
	}), nil
}

func newSessionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_, st, user, err := setup(ctx, app)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(ctx, user.ID)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(app.Out, "No sessions yet.")
				return nil
			}
			for _, sess := range sessions {
				fmt.Fprintf(app.Out, "%s  %-24s %s\n",
					sess.ID, sess.DisplayName, humanize.Time(sess.CreatedAt))
			}
			return nil
		},
	}
}

func newLibraryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "List or search saved artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_, st, user, err := setup(ctx, app)
			if err != nil {
				return err
			}
			defer st.Close()

			artifacts, err := st.ListArtifacts(ctx, user.ID)
			if err != nil {
				return err
			}
			artifacts = library.Search(artifacts, flagQuery, flagStyleID)
			if len(artifacts) == 0 {
				fmt.Fprintln(app.Out, "No saved artifacts.")
				return nil
			}
			for _, art := range artifacts {
				style := art.StyleID
				if style == "" {
					style = "-"
				}
				fmt.Fprintf(app.Out, "%s  %-32s %-12s %s\n",
					art.ID, art.Title, style, humanize.Time(art.SavedAt))
				fmt.Fprintf(app.Out, "    %s\n", art.ImageURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagQuery, "query", "", "filter by title or prompt text")
	cmd.Flags().StringVar(&flagStyleID, "style", "", "filter by style preset id")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <artifact-id>",
		Short: "Download a saved artifact to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			_, st, user, err := setup(ctx, app)
			if err != nil {
				return err
			}
			defer st.Close()

			artifacts, err := st.ListArtifacts(ctx, user.ID)
			if err != nil {
				return err
			}
			for _, art := range artifacts {
				if !strings.HasPrefix(art.ID, args[0]) {
					continue
				}
				path, err := export.New(security.DefaultURLPolicy()).Export(ctx, art, flagOutput)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "Exported %q to %s\n", art.Title, path)
				return nil
			}
			return fmt.Errorf("no artifact matching %q", args[0])
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file path")
	return cmd
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Generate images for every prompt in a file",
		Long: `Reads prompts from a .txt file (one per line, # comments) or a .json
file (array of {"prompt", "style"} objects) and runs each through the
studio in a single fresh session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if flagStyle != "" {
				if _, ok := models.DefaultPresets().Get(flagStyle); !ok {
					return fmt.Errorf("unknown style %q", flagStyle)
				}
			}

			items, err := batch.ParseFile(args[0])
			if err != nil {
				return err
			}

			cfg, st, user, err := setup(ctx, app)
			if err != nil {
				return err
			}
			defer st.Close()

			logger, err := app.NewLogger()
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.Sync()

			mgr, err := buildManager(cfg, st, logger)
			if err != nil {
				return err
			}
			defer mgr.Close()

			runner := batch.NewRunner(mgr, app.Out, app.Err)
			results, sessionID, runErr := runner.Run(ctx, user.ID, items, &batch.Options{
				StyleID:     flagStyle,
				StopOnError: flagStopOnError,
				DelayMs:     flagDelayMs,
			})
			runner.PrintSummary(results)
			fmt.Fprintf(app.Out, "Session: %s\n", sessionID)
			return runErr
		},
	}

	cmd.Flags().StringVar(&flagStyle, "style", "", "style preset applied to prompts without their own")
	cmd.Flags().IntVar(&flagDelayMs, "delay-ms", 0, "pause between prompts in milliseconds")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "abort the batch on the first failure")
	return cmd
}

func newLoginCmd(app *App, verb string) *cobra.Command {
	short := "Sign in with email and password"
	if verb == "signup" {
		short = "Create an account with email and password"
	}

	return &cobra.Command{
		Use:   verb + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.AuthAPIKey == "" {
				return fmt.Errorf("credential sign-in requires auth_api_key; the local backend uses a device identity")
			}
			configDir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}
			authn, err := app.NewAuth(cfg, configDir)
			if err != nil {
				return err
			}

			fmt.Fprint(app.Err, "Password: ")
			password, err := app.ReadPassword(app.In)
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}

			var user *models.User
			if verb == "signup" {
				user, err = authn.SignUp(ctx, args[0], password)
			} else {
				user, err = authn.SignIn(ctx, args[0], password)
			}
			if err != nil {
				return err
			}

			if err := auth.SaveSession(configDir, user); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Signed in as %s\n", user.Email)
			return nil
		},
	}
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}
			if err := auth.ClearSession(configDir); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			configDir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}
			authn, err := app.NewAuth(cfg, configDir)
			if err != nil {
				return err
			}
			user, err := resolveUser(ctx, cfg, authn, configDir)
			if err != nil {
				return err
			}
			if user.Anonymous {
				fmt.Fprintf(app.Out, "%s (anonymous device identity)\n", user.ID)
			} else {
				fmt.Fprintf(app.Out, "%s (%s)\n", user.Email, user.ID)
			}
			return nil
		},
	}
}
