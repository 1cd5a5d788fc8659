package cmd

import (
	"fmt"
	"os"
	"path"

	"github.com/deploymenttheory/go-dmgpkg/pkg/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(apfsCmd)
	apfsCmd.AddCommand(apfsLsCmd, apfsTreeCmd, apfsStatCmd, apfsCatCmd, apfsInfoCmd)
}

// apfsCmd is the fs group forced to the APFS backend, failing with
// dmgerr.NoApfsPartition if the image carries no such partition.
var apfsCmd = &cobra.Command{
	Use:   "apfs",
	Short: "Browse the image's APFS volume, forcing that backend",
}

func openApfs(imagePath string) (*pipeline.Pipeline, *pipeline.Filesystem, error) {
	p, err := openPipeline(imagePath)
	if err != nil {
		return nil, nil, err
	}
	fs, err := p.OpenApfs()
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return p, fs, nil
}

var apfsLsCmd = &cobra.Command{
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
		p, fs, err := openApfs(args[0])
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

var apfsTreeCmd = &cobra.Command{
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
		p, fs, err := openApfs(args[0])
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

var apfsStatCmd = &cobra.Command{
	Use:           "stat IMAGE PATH",
	Short:         "Show one entry's unified FileStat",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openApfs(args[0])
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
		fmt.Printf("objid: %d\n", st.ID)
		return nil
	},
}

var apfsCatCmd = &cobra.Command{
	Use:           "cat IMAGE PATH",
	Short:         "Write one file's contents to stdout",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openApfs(args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		return fs.ReadFileTo(args[1], os.Stdout)
	},
}

var apfsInfoCmd = &cobra.Command{
	Use:           "info IMAGE",
	Short:         "Show the volume's name and container/volume UUIDs",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, fs, err := openApfs(args[0])
		if err != nil {
			return err
		}
		defer p.Close()
		defer fs.Close()

		container, volume := fs.VolumeUUIDs()
		fmt.Printf("name:           %s\n", fs.VolumeInfo())
		fmt.Printf("container uuid: %s\n", container)
		fmt.Printf("volume uuid:    %s\n", volume)
		return nil
	},
}
