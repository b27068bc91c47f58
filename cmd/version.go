package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via
// -ldflags "-X github.com/xkilldash9x/veritrail-cli/cmd.Version=v1.2.3".
var Version = "dev"

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	})
}
