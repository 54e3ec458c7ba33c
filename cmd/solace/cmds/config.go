package cmds

import (
	"encoding/json"
	"os"

	"github.com/go-go-golems/solace/pkg/protocol"
	"github.com/spf13/cobra"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective settings as YAML, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(false)
			if err != nil {
				return err
			}
			b, err := s.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the configured backends are complete and reachable targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadSettings(true)
			if err != nil {
				return err
			}
			cmd.Println("configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(printCmd, validateCmd)
	return cmd
}

func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the client protocol messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(protocol.Schemas())
		},
	}
}
