package cmd

import (
	"fmt"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/internal/config"
	"github.com/deploymenttheory/go-dmgpkg/pkg/pipeline"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// pipelineOptions translates the loaded AppConfig.Extract settings into
// pipeline.Options, the single place the CLI layer bridges viper's string-
// keyed config to the orchestrator's typed options (§6 "Configuration
// options").
func pipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	if strings.EqualFold(config.Instance.Extract.Mode, "inmemory") {
		opts.Mode = source.InMemory
	}
	opts.VerifyChecksums = config.Instance.Extract.VerifyChecksums
	opts.ParallelXZ = config.Instance.Extract.ParallelXZ
	return opts
}

// openPipeline opens imagePath with the process-wide options.
func openPipeline(imagePath string) (*pipeline.Pipeline, error) {
	return pipeline.Open(imagePath, pipelineOptions())
}

// openFilesystem opens imagePath's filesystem partition, honoring a
// --backend override of "auto" (default), "hfs", or "apfs".
func openFilesystem(p *pipeline.Pipeline, backend string) (*pipeline.Filesystem, error) {
	switch strings.ToLower(backend) {
	case "hfs":
		return p.OpenHfs()
	case "apfs":
		return p.OpenApfs()
	default:
		return p.OpenFilesystem()
	}
}

func kindLabel(k pipeline.Kind) string {
	switch k {
	case pipeline.KindDir:
		return "dir"
	case pipeline.KindSymlink:
		return "symlink"
	case pipeline.KindFile:
		return "file"
	default:
		return "other"
	}
}

func printEntry(path string, e pipeline.Entry) {
	fmt.Printf("%-6s %10d  %s\n", kindLabel(e.Kind), e.Size, path)
}
