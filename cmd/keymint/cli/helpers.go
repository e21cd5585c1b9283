package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/issuance"
	"github.com/keymint/keymint/internal/owner"
	"github.com/keymint/keymint/internal/store"
	"github.com/keymint/keymint/internal/telemetry"
)

// persistentBindings maps config keys to root flags.
var persistentBindings = []string{
	"store.data_dir", "data-dir",
	"log.level", "log-level",
}

// newViper reads keymint.yaml and KEYMINT_* overrides and binds flags. Extra
// bindings are config key, flag name pairs for the running command.
func newViper(cmd *cobra.Command, bindings ...string) (*viper.Viper, error) {
	v := config.NewViper(cfgFile)
	if err := config.Read(v); err != nil {
		return nil, err
	}

	all := append(append([]string{}, persistentBindings...), bindings...)
	for i := 0; i+1 < len(all); i += 2 {
		f := lookupFlag(cmd, all[i+1])
		if f == nil {
			continue
		}
		if err := v.BindPFlag(all[i], f); err != nil {
			return nil, fmt.Errorf("bind flag --%s: %w", all[i+1], err)
		}
	}
	return v, nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// loadConfig returns the effective configuration for cmd.
func loadConfig(cmd *cobra.Command, bindings ...string) (*config.Config, error) {
	v, err := newViper(cmd, bindings...)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// app bundles what most commands need: config, logger, key store and the
// issuance service.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	keys   *issuance.Service
}

// openApp loads config, installs the logger on stderr, opens the key store
// and builds the issuance service. Call Close when done.
func openApp(cmd *cobra.Command, bindings ...string) (*app, error) {
	cfg, err := loadConfig(cmd, bindings...)
	if err != nil {
		return nil, err
	}
	logger := telemetry.SetupLogger(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)

	st, err := store.Open(cmdContext(cmd), cfg.Store.Options())
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}

	resolver, err := owner.New(cfg.Owners.Options(), st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init owner directory: %w", err)
	}
	logger.Debug("key store opened", "driver", st.Driver(), "owners", cfg.Owners.Source)
	if fr, ok := resolver.(*owner.FileResolver); ok {
		logger.Debug("owner directory loaded", "file", cfg.Owners.File, "owners", fr.Len())
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		keys:   issuance.New(st, resolver, logger),
	}, nil
}

// Close releases the key store.
func (a *app) Close() error {
	a.keys.Wait()
	return a.store.Close()
}

// ownerDirectory returns the store when it backs the owner directory.
func (a *app) ownerDirectory() *store.Store {
	if a.cfg.Owners.Source == owner.SourceStore {
		return a.store
	}
	return nil
}

// cmdContext returns the command's context, or a background context when the
// command was not started with one.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
