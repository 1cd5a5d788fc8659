package pipeline

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"github.com/deploymenttheory/go-dmgpkg/pkg/udif"
)

func TestIsHfsAndApfsPartitionMatchAttributesOrName(t *testing.T) {
	hfs := &udif.Partition{Name: "disk image", Attributes: "0x0050", ID: "0"}
	hfs.Attributes = "Apple_HFS"
	if !isHfsPartition(hfs) {
		t.Fatalf("expected Apple_HFS attribute to be recognized")
	}
	if isApfsPartition(hfs) {
		t.Fatalf("HFS partition must not match the APFS detector")
	}

	apfs := &udif.Partition{Name: "Apple_APFS", Attributes: "0x0030"}
	if !isApfsPartition(apfs) {
		t.Fatalf("expected Apple_APFS name to be recognized")
	}

	other := &udif.Partition{Name: "GPT Header Scheme", Attributes: "0x0050"}
	if isHfsPartition(other) || isApfsPartition(other) {
		t.Fatalf("partition with no recognizable hint should match neither detector")
	}
}

func TestSniffFilesystemKindFromMagic(t *testing.T) {
	hfsBytes := make([]byte, 1026)
	binary.BigEndian.PutUint16(hfsBytes[1024:1026], 0x482B)
	src := source.New(bytes.NewReader(hfsBytes), int64(len(hfsBytes)), nil)
	kind, err := sniffFilesystemKind(src)
	if err != nil {
		t.Fatalf("sniff HFS+ signature: %v", err)
	}
	if kind != FsHfs {
		t.Fatalf("expected FsHfs from signature 0x482B")
	}

	apfsBytes := make([]byte, 64)
	copy(apfsBytes[32:36], "NXSB")
	src = source.New(bytes.NewReader(apfsBytes), int64(len(apfsBytes)), nil)
	kind, err = sniffFilesystemKind(src)
	if err != nil {
		t.Fatalf("sniff NXSB magic: %v", err)
	}
	if kind != FsApfs {
		t.Fatalf("expected FsApfs from NXSB magic")
	}

	garbage := make([]byte, 64)
	src = source.New(bytes.NewReader(garbage), int64(len(garbage)), nil)
	if _, err := sniffFilesystemKind(src); err == nil {
		t.Fatalf("expected an error when neither magic is present")
	}
}

func TestModeOverrideFallsBackToPipelineDefault(t *testing.T) {
	p := &Pipeline{opts: Options{Mode: source.InMemory}}
	if got := p.modeOverride(nil); got != source.InMemory {
		t.Fatalf("expected pipeline default InMemory, got %v", got)
	}
	if got := p.modeOverride([]source.Mode{source.TempFile}); got != source.TempFile {
		t.Fatalf("expected per-call override TempFile, got %v", got)
	}
}
