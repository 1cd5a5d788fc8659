package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(payloadCmd)
	payloadCmd.PersistentFlags().String("component", "", "component name (product packages only)")
	payloadCmd.AddCommand(payloadLsCmd, payloadCatCmd)
}

// payloadCmd groups operations on a .pkg's decoded PBZX/CPIO Payload
// (§4.5 "PBZX/CPIO reader").
var payloadCmd = &cobra.Command{
	Use:   "payload",
	Short: "List or extract files from a .pkg's Payload archive",
}

var payloadLsCmd = &cobra.Command{
	Use:           "ls IMAGE PKGPATH",
	Short:         "List the Payload's CPIO entries",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		component, _ := cmd.Flags().GetString("component")

		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		fs, err := p.OpenFilesystem()
		if err != nil {
			return err
		}
		defer fs.Close()

		archive, err := p.ExtractPkgPayload(fs, args[1], component)
		if err != nil {
			return err
		}
		entries, err := archive.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s %10d  %s\n", e.Kind(), e.Size, e.Name)
		}
		return nil
	},
}

var payloadCatCmd = &cobra.Command{
	Use:           "cat IMAGE PKGPATH ENTRY",
	Short:         "Extract one Payload entry's contents to stdout",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		component, _ := cmd.Flags().GetString("component")

		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		fs, err := p.OpenFilesystem()
		if err != nil {
			return err
		}
		defer fs.Close()

		archive, err := p.ExtractPkgPayload(fs, args[1], component)
		if err != nil {
			return err
		}
		data, err := archive.ExtractFile(args[2])
		if err != nil {
			return err
		}
		_, err = io.Copy(os.Stdout, bytes.NewReader(data))
		return err
	},
}
