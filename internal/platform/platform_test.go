package platform

import "testing"

func TestAddFind(t *testing.T) {
	topo := New()
	topo.Add("/devices/platform/sdhci.1")

	node, ok := topo.Find("/devices/platform/sdhci.1/mmc_host/mmc0/block/mmcblk0p3")
	if !ok {
		t.Fatal("expected to find a node for a subpath")
	}
	if node.Name != "sdhci.1" {
		t.Errorf("Name = %q, want sdhci.1", node.Name)
	}
}

func TestAddSkipsSubdevice(t *testing.T) {
	topo := New()
	topo.Add("/devices/platform/sdhci.1")
	topo.Add("/devices/platform/sdhci.1/mmc_host/mmc0")

	if len(topo.nodes) != 1 {
		t.Fatalf("expected subdevice add to be a no-op, got %d nodes", len(topo.nodes))
	}
}

func TestAddDoesNotFalsePositiveOnStringPrefix(t *testing.T) {
	topo := New()
	topo.Add("/devices/platform/leds1")
	topo.Add("/devices/platform/leds10")

	if len(topo.nodes) != 2 {
		t.Fatalf("expected both paths to be tracked as siblings, got %d nodes", len(topo.nodes))
	}
}

func TestFindReturnsFalseWhenNoMatch(t *testing.T) {
	topo := New()
	topo.Add("/devices/platform/sdhci.1")

	if _, ok := topo.Find("/devices/platform/sdhci.2/block/x"); ok {
		t.Error("expected no match for an unrelated bus")
	}
}

func TestRemove(t *testing.T) {
	topo := New()
	topo.Add("/devices/platform/sdhci.1")
	topo.Remove("/devices/platform/sdhci.1")

	if _, ok := topo.Find("/devices/platform/sdhci.1/block/x"); ok {
		t.Error("expected node to be gone after Remove")
	}
}

func TestRemoveRequiresExactMatch(t *testing.T) {
	topo := New()
	topo.Add("/devices/platform/sdhci.1")
	topo.Remove("/devices/platform/sdhci.1/mmc_host")

	if _, ok := topo.Find("/devices/platform/sdhci.1/block/x"); !ok {
		t.Error("expected non-exact remove to leave the node untouched")
	}
}

func TestFindNewestFirst(t *testing.T) {
	topo := New()
	topo.Add("/devices/platform/a")
	topo.Remove("/devices/platform/a")
	topo.Add("/devices/platform/a")

	node, ok := topo.Find("/devices/platform/a/block/x")
	if !ok || node.Path != "/devices/platform/a" {
		t.Errorf("expected to find re-added node, got %+v, ok=%v", node, ok)
	}

	// A parent added after its own descendant is stored too; the newer node wins.
	topo.Add("/devices/platform/b/c")
	topo.Add("/devices/platform/b")
	node, ok = topo.Find("/devices/platform/b/c/x")
	if !ok || node.Path != "/devices/platform/b" {
		t.Errorf("expected newest matching node /devices/platform/b, got %+v, ok=%v", node, ok)
	}
}

func TestDeriveName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/devices/platform/sdhci.1", "sdhci.1"},
		{"/devices/soc/1234.usb", "soc/1234.usb"},
	}
	for _, tt := range tests {
		if got := deriveName(tt.path); got != tt.want {
			t.Errorf("deriveName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
