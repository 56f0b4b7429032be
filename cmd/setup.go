package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/installation"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/registry"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialise the installation with vendor credentials",

	RunE: func(cmd *cobra.Command, args []string) error {
		return doSetup()
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("vendor.access-token", "vendor.country-code")
	},
}

func init() {
	setupCmd.Flags().String("access-token", "", "vendor cloud access token")
	setupCmd.Flags().String("country-code", "", "ISO country code selecting the vendor region, eg. US or DE")

	errPanic(viper.GetViper().BindPFlag("vendor.access-token", setupCmd.Flags().Lookup("access-token")))
	errPanic(viper.GetViper().BindPFlag("vendor.country-code", setupCmd.Flags().Lookup("country-code")))

	rootCmd.AddCommand(setupCmd)
}

// doSetup creates (or refreshes) the installation state.  An existing
// state keeps its client ID and certificate material; only the token
// and region are replaced.
func doSetup() error {
	fileName := stateFileName()

	state := installation.New()
	if _, err := os.Stat(fileName); err == nil {
		if err := state.Load(fileName); err != nil {
			return err
		}
	}

	state.SetAccessToken(viper.GetString("vendor.access-token"))
	state.SetCountryCode(viper.GetString("vendor.country-code"))

	// Prove the credentials before persisting anything
	reg := registry.New(cloudFor(state))
	records, err := reg.Discover()
	if err != nil {
		return fmt.Errorf("verifying vendor credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fileName), 0700); err != nil {
		return err
	}
	if err := state.Save(fileName); err != nil {
		return err
	}

	fmt.Printf("installation initialised, %d supported appliances visible\n", len(records))
	return nil
}
