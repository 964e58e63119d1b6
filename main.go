package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gluk-w/cargocult/internal/app"
	"github.com/gluk-w/cargocult/internal/config"
	"github.com/gluk-w/cargocult/internal/content"
	"github.com/gluk-w/cargocult/internal/database"
	"github.com/gluk-w/cargocult/internal/localterm"
	"github.com/gluk-w/cargocult/internal/sshkeys"
	"github.com/gluk-w/cargocult/internal/sshrelay"
	"github.com/gluk-w/cargocult/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "cargocult",
	Short: "Terminal menu for submitting and trying Cargo Cult projects",
	Long: `cargocult serves the Cargo Cult menu over SSH.

Visitors read about the program, submit a project through a form, or pick
an approved project from the gallery and try it in a throwaway sandbox.
The local subcommands run the same flows on this terminal.

Configuration comes from CARGOCULT_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(sshCmd, menuCmd, galleryCmd, runCmd, submissionsCmd)
}

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Run the interactive menu on this terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(app.ModeMenu, "")
	},
}

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Browse the project gallery on this terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(app.ModeGallery, "")
	},
}

var runCmd = &cobra.Command{
	Use:   "run <package>",
	Short: "Try one gallery project on this terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(app.ModeProject, args[0])
	},
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List the package names of approved submissions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		approved, err := s.ListApproved(cmd.Context())
		if err != nil {
			return err
		}
		for _, sub := range approved {
			fmt.Fprintln(cmd.OutOrStdout(), sub.Package())
		}
		return nil
	},
}

// openStore opens the configured submission store, initializing the local
// database first when it backs the store.
func openStore() (store.Store, func(), error) {
	closeFn := func() {}
	if config.Cfg.StoreBackend == "sqlite" && database.DB == nil {
		if err := database.Init(); err != nil {
			return nil, nil, fmt.Errorf("database init: %w", err)
		}
		closeFn = func() { database.Close() }
	}
	s, err := store.FromConfig()
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}

// newLauncher wires the dependencies every session shares.
func newLauncher(s store.Store) (*app.Launcher, error) {
	text := content.Default()
	if config.Cfg.ContentPath != "" {
		var err error
		if text, err = content.Load(config.Cfg.ContentPath); err != nil {
			return nil, err
		}
	}

	signer, err := sshkeys.LoadSigner(config.Cfg.BackendKeyPath)
	if err != nil {
		return nil, fmt.Errorf("relay key: %w", err)
	}
	relay := sshrelay.New(sshrelay.Config{
		Addr:         config.Cfg.BackendAddr,
		User:         config.Cfg.BackendUser,
		Signer:       signer,
		RecordingDir: config.Cfg.RecordingDir,
	})

	return &app.Launcher{
		Store:        s,
		Relay:        relay,
		Content:      text,
		RelayTimeout: config.Duration(config.Cfg.RelayTimeout, app.DefaultRelayTimeout),
		MaxWidth:     config.Cfg.MaxWidth,
		Image:        config.Cfg.SandboxImage,
		ArtDelay:     app.DefaultArtDelay,
	}, nil
}

func runLocal(mode app.Mode, project string) error {
	// Log lines would land in the middle of the raw-mode screen.
	log.SetOutput(io.Discard)

	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	launcher, err := newLauncher(s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	return localterm.Run(ctx, launcher.Start, mode, project)
}
