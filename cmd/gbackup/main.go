package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apinprastya/gbackup"
)

// app is what every command works with once the config is loaded.
type app struct {
	config   *cliConfig
	store    gbackup.Store
	identity gbackup.IdentityProvider
	service  *gbackup.Service
	close    func() error
}

type appFactory func(cmd *cobra.Command, cfg *cliConfig) (*app, error)

func newApp(cmd *cobra.Command, cfg *cliConfig) (*app, error) {
	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	credential, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	identity, err := gbackup.NewGoogleIdentity(credential, store,
		gbackup.ConsoleAuthorizer(cmd.InOrStdin(), cmd.ErrOrStderr()),
		gbackup.IdentityConfig{WebClientID: cfg.WebClientID, Scopes: cfg.Scopes})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	service := gbackup.New(identity, store, &gbackup.Config{
		BaseURL:   cfg.Drive.BaseURL,
		UploadURL: cfg.Drive.UploadURL,
	})
	return &app{config: cfg, store: store, identity: identity, service: service, close: closeStore}, nil
}

func openStore(ctx context.Context, cfg storeConfig) (gbackup.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "memory":
		return gbackup.NewMemoryStore(), noop, nil
	case "sqlite":
		store, err := gbackup.OpenSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "file", "":
		return gbackup.NewFileStore(cfg.Path), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// newRootCmd builds the command tree. The returned func releases whatever the
// factory opened and must run after Execute, whether or not a command failed.
func newRootCmd(factory appFactory) (*cobra.Command, func() error) {
	v := newViper()
	var (
		configFile string
		current    *app
	)

	root := &cobra.Command{
		Use:           "gbackup",
		Short:         "Back up app data to Google Drive",
		Long:          "Signs into Google and keeps a single JSON backup in the Drive appDataFolder.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}
			current, err = factory(cmd, cfg)
			return err
		},
	}
	closeApp := func() error {
		if current == nil {
			return nil
		}
		a := current
		current = nil
		return a.close()
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default gbackup.{yaml,toml,json} in the config directory)")
	flags.String("credentials", "", "Google OAuth client credentials JSON file")
	flags.String("web-client-id", "", "OAuth client id overriding the one in the credentials file")
	flags.String("store", "", "local state driver: file, sqlite or memory")
	flags.String("store-path", "", "local state location")
	flags.String("log-level", "", "log level")
	flags.String("log-format", "", "log format: text or json")
	for key, flag := range map[string]string{
		"credentials_file": "credentials",
		"web_client_id":    "web-client-id",
		"store.driver":     "store",
		"store.path":       "store-path",
		"log_level":        "log-level",
		"log_format":       "log-format",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			logrus.WithError(err).WithField("flag", flag).Error("unable to bind flag")
		}
	}

	appOf := func() *app { return current }
	root.AddCommand(
		newSignInCmd(appOf),
		newSignOutCmd(appOf),
		newWhoAmICmd(appOf),
		newRefreshCmd(appOf),
		newBackupCmd(appOf),
		newRestoreCmd(appOf),
	)
	return root, closeApp
}

// notification renders a command failure the way the account screen would.
func notification(err error) string {
	var opErr *gbackup.Error
	if errors.As(err, &opErr) {
		return opErr.Notification.Message
	}
	return err.Error()
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root, closeApp := newRootCmd(newApp)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(context.Background())
	if closeErr := closeApp(); closeErr != nil {
		logrus.WithError(closeErr).Warn("unable to close local state")
	}
	if err != nil {
		fmt.Fprintln(stderr, notification(err))
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
