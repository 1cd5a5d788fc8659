package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pkgCmd)
	pkgCmd.AddCommand(pkgFindCmd, pkgInfoCmd)
}

// pkgCmd groups XAR/PKG-level inspection: locating .pkg files on the
// filesystem and classifying one as a product or component package
// (§4.4 "PKG product/component classification").
var pkgCmd = &cobra.Command{
	Use:   "pkg",
	Short: "Inspect .pkg installer archives on the image's filesystem",
}

var pkgFindCmd = &cobra.Command{
	Use:           "find IMAGE",
	Short:         "List every .pkg path on the image's filesystem",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		paths, err := p.FindPackages(fs)
		if err != nil {
			return err
		}
		for _, path := range paths {
			fmt.Println(path)
		}
		return nil
	},
}

var pkgInfoCmd = &cobra.Command{
	Use:           "info IMAGE PKGPATH",
	Short:         "Show a .pkg's classification, components, and PackageInfo/Distribution XML",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		pr, err := p.OpenPkgStreaming(fs, args[1])
		if err != nil {
			return err
		}

		if pr.IsProductPackage() {
			fmt.Println("kind: product")
			dist, err := pr.Distribution()
			if err != nil {
				return err
			}
			fmt.Printf("distribution.xml: %d bytes\n", len(dist))
		} else {
			fmt.Println("kind: component")
		}

		for _, component := range pr.Components() {
			label := component
			if label == "" {
				label = "(root)"
			}
			fmt.Printf("component: %s\n", label)
			info, err := pr.PackageInfo(component)
			if err != nil {
				return err
			}
			if info != nil {
				os.Stdout.Write(info)
				fmt.Println()
			}
		}
		return nil
	},
}
