package cmd

import (
	"fmt"

	"github.com/deploymenttheory/go-dmgpkg/pkg/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

// infoCmd prints a one-shot summary spanning every layer of the stack:
// partition count, detected filesystem kind, and .pkg count — the
// single command a caller reaches for before picking a more specific
// group (§6 "CLI surface").
var infoCmd = &cobra.Command{
	Use:           "info IMAGE",
	Short:         "Summarize an image: partitions, filesystem kind, package count",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		parts := p.Partitions()
		fmt.Printf("partitions: %d\n", len(parts))
		for _, part := range parts {
			fmt.Printf("  %-4s %-24s %s\n", part.ID, part.Name, part.Attributes)
		}

		fs, err := p.OpenFilesystem()
		if err != nil {
			fmt.Printf("filesystem: unavailable (%v)\n", err)
			return nil
		}
		defer fs.Close()

		kind := "hfs"
		if fs.Kind() == pipeline.FsApfs {
			kind = "apfs"
		}
		fmt.Printf("filesystem: %s\n", kind)

		pkgs, err := p.FindPackages(fs)
		if err != nil {
			return err
		}
		fmt.Printf("packages:   %d\n", len(pkgs))
		return nil
	},
}
