package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/canvasgate/canvasgate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		format     string
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long:  `Generate the OpenAPI 3.1 document describing the gateway's HTTP API.`,
		Example: `  canvasgate openapi                     # JSON to stdout
  canvasgate openapi --format yaml -o api.yaml
  canvasgate openapi --base-url https://gate.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := openapi.Generate(baseURL, versionString())

			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal openapi: %w", err)
			}
			switch format {
			case "json":
			case "yaml":
				var tree map[string]any
				if err := json.Unmarshal(data, &tree); err != nil {
					return err
				}
				if data, err = yaml.Marshal(tree); err != nil {
					return fmt.Errorf("marshal openapi: %w", err)
				}
			default:
				return fmt.Errorf("unsupported format %q; use json or yaml", format)
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, data, 0644); err != nil {
					return fmt.Errorf("write %s: %w", outputFile, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL advertised in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}
