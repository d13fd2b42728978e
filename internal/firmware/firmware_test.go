package firmware

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeNotifier records Result calls for assertions; it is safe for the
// concurrent use Trigger requires.
type fakeNotifier struct {
	mu      sync.Mutex
	results []Result
}

func (f *fakeNotifier) FirmwareLoaded(r Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
}

func (f *fakeNotifier) wait(t *testing.T) Result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.results) > 0 {
			r := f.results[0]
			f.mu.Unlock()
			return r
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for firmware result")
	return Result{}
}

func setupSysfs(t *testing.T, devpath string) (sysfsRoot string, loadingPath, dataPath string) {
	t.Helper()
	sysfsRoot = t.TempDir()
	dir := filepath.Join(sysfsRoot, devpath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	loadingPath = filepath.Join(dir, "loading")
	dataPath = filepath.Join(dir, "data")
	if err := os.WriteFile(loadingPath, nil, 0644); err != nil {
		t.Fatalf("WriteFile loading: %v", err)
	}
	if err := os.WriteFile(dataPath, nil, 0644); err != nil {
		t.Fatalf("WriteFile data: %v", err)
	}
	return sysfsRoot, loadingPath, dataPath
}

func TestTrigger_SuccessfulLoad(t *testing.T) {
	devpath := "/devices/pci0000:00/firmware"
	sysfsRoot, loadingPath, dataPath := setupSysfs(t, devpath)

	fwDir := t.TempDir()
	fwContent := []byte("firmware-bytes-here")
	if err := os.WriteFile(filepath.Join(fwDir, "test.ucode"), fwContent, 0644); err != nil {
		t.Fatalf("WriteFile firmware: %v", err)
	}

	notifier := &fakeNotifier{}
	l := New([]string{fwDir}, "", notifier, nil)
	l.SysfsRoot = sysfsRoot

	l.Trigger(context.Background(), devpath, "test.ucode")

	result := notifier.wait(t)
	if !result.Loaded {
		t.Fatalf("expected Loaded=true, got %+v", result)
	}
	if result.Bytes != int64(len(fwContent)) {
		t.Errorf("expected %d bytes transferred, got %d", len(fwContent), result.Bytes)
	}

	got, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatalf("ReadFile data: %v", err)
	}
	if string(got) != string(fwContent) {
		t.Errorf("data attribute = %q, want %q", got, fwContent)
	}

	loadingSeq, err := os.ReadFile(loadingPath)
	if err != nil {
		t.Fatalf("ReadFile loading: %v", err)
	}
	if string(loadingSeq) != "10" {
		t.Errorf("loading attribute sequence = %q, want \"10\" (1 then 0 appended)", loadingSeq)
	}
}

func TestTrigger_NotFoundNoSentinel(t *testing.T) {
	devpath := "/devices/pci0000:00/firmware"
	sysfsRoot, loadingPath, dataPath := setupSysfs(t, devpath)

	notifier := &fakeNotifier{}
	l := New([]string{t.TempDir()}, "", notifier, nil)
	l.SysfsRoot = sysfsRoot

	l.Trigger(context.Background(), devpath, "missing.ucode")

	result := notifier.wait(t)
	if result.Loaded {
		t.Fatal("expected Loaded=false when firmware file is absent")
	}

	loadingSeq, err := os.ReadFile(loadingPath)
	if err != nil {
		t.Fatalf("ReadFile loading: %v", err)
	}
	if string(loadingSeq) != "-1" {
		t.Errorf("loading attribute = %q, want -1", loadingSeq)
	}

	dataSeq, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatalf("ReadFile data: %v", err)
	}
	if len(dataSeq) != 0 {
		t.Errorf("expected no writes to data, got %q", dataSeq)
	}
}

func TestTrigger_RetriesWhileBootingThenGivesUp(t *testing.T) {
	devpath := "/devices/pci0000:00/firmware"
	sysfsRoot, loadingPath, _ := setupSysfs(t, devpath)

	sentinel := filepath.Join(t.TempDir(), ".booting")
	if err := os.WriteFile(sentinel, nil, 0644); err != nil {
		t.Fatalf("WriteFile sentinel: %v", err)
	}

	notifier := &fakeNotifier{}
	l := New([]string{t.TempDir()}, sentinel, notifier, nil)
	l.SysfsRoot = sysfsRoot

	l.Trigger(context.Background(), devpath, "missing.ucode")

	// Let it retry a couple of times, then remove the sentinel so the
	// loader gives up.
	time.Sleep(250 * time.Millisecond)
	if err := os.Remove(sentinel); err != nil {
		t.Fatalf("Remove sentinel: %v", err)
	}

	result := notifier.wait(t)
	if result.Loaded {
		t.Fatal("expected the retry loop to give up once the sentinel disappears")
	}

	loadingSeq, err := os.ReadFile(loadingPath)
	if err != nil {
		t.Fatalf("ReadFile loading: %v", err)
	}
	if string(loadingSeq) != "-1" {
		t.Errorf("loading attribute = %q, want exactly one -1 write", loadingSeq)
	}
}

func TestTrigger_MissingLoadingAttributeDropsRequest(t *testing.T) {
	sysfsRoot := t.TempDir()
	notifier := &fakeNotifier{}
	l := New(nil, "", notifier, nil)
	l.SysfsRoot = sysfsRoot

	l.Trigger(context.Background(), "/devices/nowhere", "x.ucode")

	// No loading/data attributes exist; the loader must drop the
	// request without ever calling the notifier.
	time.Sleep(50 * time.Millisecond)
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.results) != 0 {
		t.Errorf("expected no notification when sysfs attributes are missing, got %+v", notifier.results)
	}
}
