package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/solace/pkg/app"
	"github.com/go-go-golems/solace/pkg/events"
	"github.com/go-go-golems/solace/pkg/pipeline"
	"github.com/go-go-golems/solace/pkg/protocol"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Run a single turn and print the answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			audioPath, _ := cmd.Flags().GetString("audio")
			avatar, _ := cmd.Flags().GetBool("avatar")
			render, _ := cmd.Flags().GetBool("render")
			printEvents, _ := cmd.Flags().GetBool("events")
			withMetadata, _ := cmd.Flags().GetBool("event-metadata")

			in, err := askInput(text, audioPath)
			if err != nil {
				return err
			}

			s, err := loadSettings(false)
			if err != nil {
				return err
			}
			if avatar {
				s.Render.Enabled = true
			}
			if err := s.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			router, err := events.NewEventRouter(events.WithVerbose(withMetadata))
			if err != nil {
				return err
			}
			var appOptions []app.Option
			if printEvents {
				router.AddHandler("stderr", events.TopicTurns, router.DumpRawEventsTo(os.Stderr))
				appOptions = append(appOptions, app.WithEventSink(router.Sink(events.TopicTurns)))
			}

			a, err := app.Build(ctx, s, appOptions...)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			p := a.Chat
			if avatar {
				p = a.Avatar
			}

			var res *pipeline.Result
			var runErr error
			if !printEvents {
				res, runErr = p.Run(ctx, turns.NewTurn("", in))
			} else {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				eg, ctx := errgroup.WithContext(ctx)
				eg.Go(func() error {
					return router.Run(ctx)
				})
				eg.Go(func() error {
					defer cancel()
					<-router.Running()
					res, runErr = p.Run(ctx, turns.NewTurn("", in))
					return nil
				})
				if err := eg.Wait(); err != nil {
					return err
				}
				_ = router.Close()
			}

			if runErr != nil {
				if err := printJSON(protocol.ErrorMessage(runErr)); err != nil {
					return err
				}
				return runErr
			}
			if render {
				return printRendered(res)
			}
			return printJSON(protocol.ResultMessage(res))
		},
	}

	cmd.Flags().String("text", "", "Message text")
	cmd.Flags().String("audio", "", "Audio file to transcribe and answer")
	cmd.Flags().Bool("avatar", false, "Render the answer as a talking avatar")
	cmd.Flags().Bool("render", false, "Render the answer as markdown in the terminal")
	cmd.Flags().Bool("events", false, "Print pipeline events to stderr")
	cmd.Flags().Bool("event-metadata", false, "Include full event metadata with --events")

	return cmd
}

func askInput(text, audioPath string) (turns.Input, error) {
	switch {
	case text != "" && audioPath != "":
		return turns.Input{}, errors.New("--text and --audio are mutually exclusive")
	case audioPath != "":
		audio, encoding, err := readAudio(audioPath)
		if err != nil {
			return turns.Input{}, err
		}
		return turns.AudioInput(audio, encoding), nil
	case text != "":
		return turns.TextInput(text), nil
	}

	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	answer, err := ui.Ask("How are you feeling today?", &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
	})
	if err != nil {
		return turns.Input{}, errors.Wrap(err, "reading message")
	}
	return turns.TextInput(answer), nil
}

func readAudio(path string) ([]byte, string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading %s", path)
	}
	return audio, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRendered(res *pipeline.Result) error {
	var sb strings.Builder
	if res.HasTranscription() {
		sb.WriteString("> " + res.Transcription + "\n\n")
	}
	sb.WriteString(res.Generation.ResponseText + "\n\n")
	sb.WriteString("*Source: " + string(res.Generation.Source) + "*\n")
	if res.HasAvatar() {
		sb.WriteString("\n[Avatar video](" + res.AvatarURL + ")\n")
	}

	styled, err := glamour.Render(sb.String(), "dark")
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(os.Stdout, styled)
	return err
}
