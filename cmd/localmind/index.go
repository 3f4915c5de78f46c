package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"localmind/config"
	"localmind/internal/tools/fileindex"
)

func indexCMD() *cobra.Command {
	var cfgPath string
	var root string
	var index = &cobra.Command{
		Use:   "index",
		Short: "Rebuild the workspace file index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if root == "" {
				root = cfg.General.WorkDir
			}
			idx, err := fileindex.Open(root)
			if err != nil {
				return err
			}
			defer idx.Close()

			n, err := idx.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d files under %s\n", n, root)
			return nil
		},
	}
	index.Flags().StringVar(&root, "root", "", "directory to index (default general.work_dir)")
	index.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return index
}
