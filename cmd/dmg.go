package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(dmgCmd)
	dmgCmd.AddCommand(dmgLsCmd)
	dmgCmd.AddCommand(dmgInfoCmd)
	dmgCmd.AddCommand(dmgTrailerCmd)
	dmgCmd.AddCommand(dmgPlistCmd)
}

// dmgCmd groups operations on the raw UDIF image: partition enumeration
// and trailer/mish metadata (§4.1 "UDIF reader").
var dmgCmd = &cobra.Command{
	Use:   "dmg",
	Short: "Inspect a UDIF disk image's partitions",
}

var dmgLsCmd = &cobra.Command{
	Use:           "ls IMAGE",
	Short:         "List the image's partition records",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		for _, part := range p.Partitions() {
			fmt.Printf("%-4s %-24s %-16s %10d sectors\n", part.ID, part.Name, part.Attributes, part.SectorCount())
		}
		return nil
	},
}

var dmgInfoCmd = &cobra.Command{
	Use:           "info IMAGE ID",
	Short:         "Show one partition's size and checksum status",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		for _, part := range p.Partitions() {
			if part.ID != args[1] {
				continue
			}
			fmt.Printf("name:       %s\n", part.Name)
			fmt.Printf("attributes: %s\n", part.Attributes)
			fmt.Printf("sectors:    %d\n", part.SectorCount())
			fmt.Printf("size:       %d bytes\n", part.Size())
			if err := part.VerifyChecksum(); err != nil {
				fmt.Printf("checksum:   mismatch (%v)\n", err)
			} else {
				fmt.Printf("checksum:   ok\n")
			}
			return nil
		}
		return fmt.Errorf("no partition with id %q", args[1])
	},
}

var dmgTrailerCmd = &cobra.Command{
	Use:           "trailer IMAGE",
	Short:         "Show the koly trailer's segment identity and sector count",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		t := p.Trailer()
		fmt.Printf("segment:      %d of %d\n", t.SegmentNumber, t.SegmentCount)
		fmt.Printf("segment uuid: %s\n", t.SegmentUUID())
		fmt.Printf("sectors:      %d\n", t.SectorCount)
		return nil
	},
}

var dmgPlistCmd = &cobra.Command{
	Use:           "plist IMAGE",
	Short:         "List the embedded plist's top-level keys",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		raw, err := p.RawPropertyList()
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s\n", k)
		}
		return nil
	},
}
