package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/version"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the build version and check for a newer release",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.GetInfoFromGithub()
		if versionJSON {
			s, err := info.ToJSON()
			if err != nil {
				return fmt.Errorf("marshaling version info: %w", err)
			}
			fmt.Println(s)
			return nil
		}
		fmt.Print(info.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version info as JSON")
}
