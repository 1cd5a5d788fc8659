package cmd

import (
	"fmt"
	"os"
	"path"

	"github.com/deploymenttheory/go-dmgpkg/pkg/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(hfsCmd)
	hfsCmd.AddCommand(hfsLsCmd, hfsTreeCmd, hfsStatCmd, hfsCatCmd)
}

// hfsCmd is the fs group forced to the HFS+/HFSX backend, failing with
// dmgerr.NoHfsPartition if the image carries no such partition.
var hfsCmd = &cobra.Command{
	Use:   "hfs",
	Short: "Browse the image's HFS+/HFSX filesystem, forcing that backend",
}

func openHfs(imagePath string) (*pipeline.Pipeline, *pipeline.Filesystem, error) {
	p, err := openPipeline(imagePath)
	if err != nil {
		return nil, nil, err
	}
	fs, err := p.OpenHfs()
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return p, fs, nil
}

var hfsLsCmd = &cobra.Command{
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
		p, fs, err := openHfs(args[0])
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

var hfsTreeCmd = &cobra.Command{
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
		p, fs, err := openHfs(args[0])
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

var hfsStatCmd = &cobra.Command{
	Use:           "stat IMAGE PATH",
	Short:         "Show one entry's unified FileStat",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openHfs(args[0])
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
		fmt.Printf("mtime: %s\n", st.Mtime)
		fmt.Printf("btime: %s\n", st.Btime)
		fmt.Printf("cnid:  %d\n", st.ID)
		fmt.Printf("forks: %v\n", st.ForkSizes)
		return nil
	},
}

var hfsCatCmd = &cobra.Command{
	Use:           "cat IMAGE PATH",
	Short:         "Write one file's data fork to stdout",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openHfs(args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		return fs.ReadFileTo(args[1], os.Stdout)
	},
}
