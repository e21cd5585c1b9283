package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keymint/keymint/internal/server"
	"github.com/keymint/keymint/internal/service"
)

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keymint admin API server",
		Long: `Start the HTTP server that issues, lists, deactivates and verifies API keys.
Management endpoints require an operator token from 'keymint token'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "127.0.0.1", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	return cmd
}

func runServe(cmd *cobra.Command, dev bool) error {
	bindings := []string{"server.port", "port", "server.host", "host"}
	if dev {
		if f := lookupFlag(cmd, "log-level"); f != nil && !f.Changed {
			f.Value.Set("debug")
			f.Changed = true
		}
	}

	a, err := openApp(cmd, bindings...)
	if err != nil {
		return err
	}

	if a.cfg.Auth.JWTSecret == "" {
		a.logger.Warn("auth.jwt_secret is not set; management endpoints will reject every request")
	}
	authSvc := service.NewAuthService(a.keys, a.cfg.Auth.JWTSecret)

	srvCfg := server.FromConfig(a.cfg)
	srvCfg.Version = versionString()
	srv := server.New(srvCfg, a.keys, a.store, authSvc, a.logger)

	out := cmd.OutOrStdout()
	base := "http://" + srv.Addr()
	fmt.Fprintf(out, "→ keymint %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on %s\n", base)
	fmt.Fprintf(out, "→ Key store:  %s\n", a.store.Driver())
	fmt.Fprintf(out, "→ Owners:     %s\n", a.cfg.Owners.Source)
	fmt.Fprintf(out, "→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Fprintf(out, "→ Metrics:    %s/metrics\n", base)
	fmt.Fprintln(out)

	// The server closes the store on shutdown.
	return srv.ListenAndServe()
}
