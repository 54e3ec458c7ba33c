package cmds

import (
	"fmt"

	"github.com/go-go-golems/solace/pkg/backends/factory"
	"github.com/go-go-golems/solace/pkg/security"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewTranscribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(false)
			if err != nil {
				return err
			}
			if err := security.ValidateEndpoints(map[string]string{
				"transcription.endpoint": s.Transcription.Endpoint,
			}, s.OutboundURLOptions()); err != nil {
				return err
			}

			transcriber, err := factory.NewBackendFactory().CreateTranscriber(s)
			if err != nil {
				return err
			}
			audio, encoding, err := readAudio(args[0])
			if err != nil {
				return err
			}

			text, err := transcriber.Transcribe(cmd.Context(), audio, encoding)
			if err != nil {
				return errors.Wrap(err, "transcribing")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
}
