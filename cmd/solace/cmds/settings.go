package cmds

import (
	"github.com/go-go-golems/solace/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// bindFlags maps command flags onto settings keys so that flags override
// config files and environment.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func loadSettings(validate bool) (*config.Settings, error) {
	s, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if validate {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}
