package main

import (
	"io"
	"os"

	"github.com/go-go-golems/solace/cmd/solace/cmds"
	"github.com/go-go-golems/solace/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "solace",
	Short: "solace answers mental health questions from a knowledge base, by text, voice or avatar",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		initLogger()
		return nil
	},
	SilenceUsage: true,
}

func initConfig(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	v := viper.GetViper()
	if err := config.Configure(v); err != nil {
		return err
	}
	configPath, _ := cmd.Flags().GetString("config")
	if err := config.ReadConfigFile(v, configPath); err != nil {
		return err
	}

	for _, name := range []string{"log-level", "log-format", "log-file", "with-caller"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func initLogger() {
	err := InitLogger(&logConfig{
		Level:      viper.GetString("log-level"),
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}

	format := config.LogFormat
	if format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	var logWriter io.Writer
	if format == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text); text when stderr is a terminal")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this rotated file")
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller information")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search ., $HOME/.solace, /etc/solace)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before the configuration")

	rootCmd.AddCommand(
		cmds.NewServeCommand(),
		cmds.NewAskCommand(),
		cmds.NewTranscribeCommand(),
		cmds.NewConfigCommand(),
		cmds.NewSchemaCommand(),
	)
}
