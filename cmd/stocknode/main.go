package main

import (
	"os"

	"github.com/efreitasn/stockshares/cmd/stocknode/commands"
)

func main() {
	rootCmd := commands.NewRootCmd()
	rootCmd.AddCommand(
		commands.NewServeCmd(),
		commands.NewHealthcheckCmd(),
		commands.VersionCmd,
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
