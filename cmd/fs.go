package cmd

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(fsCmd)
	fsCmd.PersistentFlags().String("backend", "auto", "filesystem backend: auto, hfs, or apfs")
	fsCmd.AddCommand(fsLsCmd, fsTreeCmd, fsStatCmd, fsCatCmd, fsFindCmd)
}

// fsCmd groups read-only operations on the image's auto-detected
// filesystem partition, dispatching through pkg/pipeline's unified
// Filesystem handle (§4.6 "Unified filesystem interface").
var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Browse the image's HFS+/APFS filesystem",
}

func openImageFs(cmd *cobra.Command, imagePath string) (*pipeline.Pipeline, *pipeline.Filesystem, error) {
	backend, _ := cmd.Flags().GetString("backend")
	p, err := openPipeline(imagePath)
	if err != nil {
		return nil, nil, err
	}
	fs, err := openFilesystem(p, backend)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return p, fs, nil
}

var fsLsCmd = &cobra.Command{
	Use:           "ls IMAGE [PATH]",
	Short:         "List one directory's immediate children",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "/"
		if len(args) == 2 {
			target = args[1]
		}
		p, fs, err := openImageFs(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		entries, err := fs.List(target)
		if err != nil {
			return err
		}
		for _, e := range entries {
			printEntry(path.Join(target, e.Name), e)
		}
		return nil
	},
}

var fsTreeCmd = &cobra.Command{
	Use:           "tree IMAGE [PATH]",
	Short:         "Walk the filesystem depth-first from PATH",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "/"
		if len(args) == 2 {
			target = args[1]
		}
		p, fs, err := openImageFs(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		return fs.Walk(target, func(p string, e pipeline.Entry) error {
			printEntry(p, e)
			return nil
		})
	},
}

var fsStatCmd = &cobra.Command{
	Use:           "stat IMAGE PATH",
	Short:         "Show one entry's unified FileStat",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openImageFs(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		st, err := fs.Stat(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("size:  %d\n", st.Size)
		fmt.Printf("mode:  %o\n", st.Mode)
		fmt.Printf("mtime: %s\n", st.Mtime)
		fmt.Printf("id:    %d\n", st.ID)
		if len(st.ForkSizes) > 0 {
			fmt.Printf("forks: %v\n", st.ForkSizes)
		}
		return nil
	},
}

var fsCatCmd = &cobra.Command{
	Use:           "cat IMAGE PATH",
	Short:         "Write one file's decoded contents to stdout",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openImageFs(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		return fs.ReadFileTo(args[1], os.Stdout)
	},
}

var fsFindCmd = &cobra.Command{
	Use:           "find IMAGE SUBSTRING",
	Short:         "Walk the filesystem collecting paths containing SUBSTRING",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openImageFs(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		needle := args[1]
		return fs.Walk("/", func(p string, e pipeline.Entry) error {
			if strings.Contains(p, needle) {
				fmt.Println(p)
			}
			return nil
		})
	},
}
