package cmd

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-dmgpkg/internal/config"
	"github.com/deploymenttheory/go-dmgpkg/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base CLI command.
var rootCmd = &cobra.Command{
	Use:   "go-dmgpkg",
	Short: "Read-only extraction of Apple disk-image package contents",
	Long: `go-dmgpkg walks the UDIF -> HFS+/APFS -> XAR/PKG -> PBZX/CPIO stack
used to distribute macOS software, and exposes each layer as its own
command group: dmg, fs, hfs, apfs, pkg, payload, info, bench.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		logFormat, _ := cmd.Flags().GetString("log-format")

		if cmd.Flags().Changed("debug") {
			config.Instance.Debug = debug
		}
		if cmd.Flags().Changed("log-format") {
			config.Instance.LogFormat = logFormat
		}
		if cmd.Flags().Changed("extract-mode") {
			config.Instance.Extract.Mode, _ = cmd.Flags().GetString("extract-mode")
		}
		if cmd.Flags().Changed("verify-checksums") {
			config.Instance.Extract.VerifyChecksums, _ = cmd.Flags().GetBool("verify-checksums")
		}
		if cmd.Flags().Changed("parallel-xz") {
			config.Instance.Extract.ParallelXZ, _ = cmd.Flags().GetBool("parallel-xz")
		}

		if cmd.Flags().Changed("config") && cfgFile != "" {
			if err := config.Initialize(cfgFile); err != nil {
				logger.LogError("error loading config file", err, map[string]interface{}{
					"config_file": cfgFile,
				})
			}
		}
	},
}

// Execute runs the root command. Exit code 0 on success, non-zero on any
// surfaced error (§6 "CLI surface").
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.LogError("command execution failed", err, nil)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is search in standard locations)")
	rootCmd.PersistentFlags().Bool("debug", config.Instance.Debug, "enable debug logging")
	rootCmd.PersistentFlags().String("log-format", config.Instance.LogFormat, "log format: json or human")
	rootCmd.PersistentFlags().String("extract-mode", "", "extraction mode: tempfile or inmemory")
	rootCmd.PersistentFlags().Bool("verify-checksums", true, "verify UDIF mish/CRC-32 checksums on extraction")
	rootCmd.PersistentFlags().Bool("parallel-xz", true, "decode PBZX chunks in parallel")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("extract.mode", rootCmd.PersistentFlags().Lookup("extract-mode"))
	_ = viper.BindPFlag("extract.verify_checksums", rootCmd.PersistentFlags().Lookup("verify-checksums"))
	_ = viper.BindPFlag("extract.parallel_xz", rootCmd.PersistentFlags().Lookup("parallel-xz"))

	rootCmd.AddCommand(versionCmd)
}

// versionCmd shows the application version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("go-dmgpkg v0.1.0")
	},
}
