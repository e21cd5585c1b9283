package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keymint/keymint/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the admin API OpenAPI document",
		Long:  "Generate the OpenAPI 3.1 document describing the endpoints served by 'keymint serve'.",
		Example: `  keymint openapi
  keymint openapi --base-url https://keys.example.com -o openapi.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd, baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to advertise in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write document to file instead of stdout")

	return cmd
}

func runOpenAPI(cmd *cobra.Command, baseURL, outputFile string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	doc := openapi.Generate(openapi.Options{
		BaseURL:      baseURL,
		Version:      versionString(),
		APIKeyHeader: cfg.Auth.APIKeyHeader,
	})

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi document: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, append(b, '\n'), 0644); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
