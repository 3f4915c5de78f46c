package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "localmind"}

	root.AddCommand(serveCMD(), askCMD(), migrateCMD(), indexCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
