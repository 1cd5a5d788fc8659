package hfsplus

import (
	"bytes"
	"testing"

	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

func TestCompareCatalogKeysParentThenName(t *testing.T) {
	a := CatalogKey{ParentID: 2, NodeName: "a"}
	b := CatalogKey{ParentID: 3, NodeName: "a"}
	if compareCatalogKeys(a, b, true) >= 0 {
		t.Fatalf("expected a < b by parent ID")
	}

	c := CatalogKey{ParentID: 2, NodeName: "Apple"}
	d := CatalogKey{ParentID: 2, NodeName: "apple"}
	if compareCatalogKeys(c, d, true) != 0 {
		t.Fatalf("expected case-folded equality on HFS+ volumes")
	}
	if compareCatalogKeys(c, d, false) == 0 {
		t.Fatalf("expected binary inequality on HFSX volumes")
	}
}

func TestHFSTimeZeroIsZeroValue(t *testing.T) {
	if !hfsTime(0).IsZero() {
		t.Fatalf("expected zero HFS timestamp to map to the zero time.Time")
	}
}

func TestForkReaderCrossesExtentBoundary(t *testing.T) {
	const blockSize = 16
	data := make([]byte, blockSize*4)
	for i := range data {
		data[i] = byte(i / blockSize)
	}

	v := &Volume{
		src:    source.New(bytes.NewReader(data), int64(len(data)), nil),
		header: &VolumeHeader{BlockSize: blockSize},
	}

	fork := ForkData{
		LogicalSize: blockSize * 4,
		Extents: [8]ExtentDescriptor{
			{StartBlock: 2, BlockCount: 1}, // logical block 0 -> physical block 2
			{StartBlock: 0, BlockCount: 1}, // logical block 1 -> physical block 0
			{StartBlock: 3, BlockCount: 2}, // logical blocks 2-3 -> physical blocks 3-4
		},
	}
	fr, err := newForkReader(v, fork, 99, forkTypeData)
	if err != nil {
		t.Fatalf("newForkReader: %v", err)
	}

	out := make([]byte, blockSize*2)
	n, err := fr.ReadAt(out, blockSize/2)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(out) {
		t.Fatalf("short read: %d", n)
	}
	// The first half-block comes from physical block 2, the next full block
	// from physical block 0, and the last half-block from physical block 3.
	if out[0] != 2 || out[blockSize/2] != 0 {
		t.Fatalf("unexpected extent mapping: %v", out)
	}
}

func TestSplitPathDropsEmptyComponents(t *testing.T) {
	got := splitPath("/Applications//Foo.app/")
	want := []string{"Applications", "Foo.app"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
