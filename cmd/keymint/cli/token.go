package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keymint/keymint/internal/service"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the admin API",
		Long: `Mint a signed operator JWT for the management endpoints of 'keymint serve'.
The signing secret comes from auth.jwt_secret (KEYMINT_AUTH_JWT_SECRET). When
it is unset and stdin is a terminal, you are prompted for it.`,
		Example: `  keymint token --subject ops@example.com
  curl -H "Authorization: Bearer $(keymint token)" localhost:8080/api/v1/keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, subject, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.jwt_expiry)")

	return cmd
}

func runToken(cmd *cobra.Command, subject string, ttl time.Duration) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cfg.Auth.JWTExpiry
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret, err = promptSecret(cmd)
		if err != nil {
			return err
		}
	}

	// Only signing is needed, so no key service is wired.
	authSvc := service.NewAuthService(nil, secret)
	token, err := authSvc.IssueJWT(cmdContext(cmd), subject, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// stdinIsTerminal reports whether a prompt can be shown.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptSecret reads the signing secret from the terminal without echo.
func promptSecret(cmd *cobra.Command) (string, error) {
	if !stdinIsTerminal() {
		return "", service.ErrNoSigningSecret
	}

	fmt.Fprint(cmd.ErrOrStderr(), "JWT signing secret: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", service.ErrNoSigningSecret
	}
	return secret, nil
}
