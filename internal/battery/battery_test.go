package battery

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBattery(t *testing.T, root string, name string, capacity string, status string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if capacity != "" {
		if err := os.WriteFile(filepath.Join(dir, "capacity"), []byte(capacity), 0o600); err != nil {
			t.Fatalf("write capacity failed: %v", err)
		}
	}
	if status != "" {
		if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o600); err != nil {
			t.Fatalf("write status failed: %v", err)
		}
	}
}

func TestSysfsReaderReadsLevelAndCharging(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeBattery(t, root, "BAT0", "87\n", "Charging\n")

	reader := NewSysfsReader(root)
	info, err := reader.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if info.Level != 87 {
		t.Fatalf("unexpected level: %d", info.Level)
	}
	if !info.Charging {
		t.Fatalf("expected charging")
	}
}

func TestSysfsReaderSkipsEntriesWithoutCapacity(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeBattery(t, root, "AC", "", "")
	writeBattery(t, root, "BAT1", "42\n", "Discharging\n")

	reader := NewSysfsReader(root)
	info, err := reader.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if info.Level != 42 || info.Charging {
		t.Fatalf("unexpected reading: %+v", info)
	}
}

func TestSysfsReaderClampsOutOfRangeLevels(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeBattery(t, root, "BAT0", "105\n", "")

	reader := NewSysfsReader(root)
	info, err := reader.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if info.Level != 100 {
		t.Fatalf("expected clamp to 100, got %d", info.Level)
	}
}

func TestSysfsReaderUnavailableBattery(t *testing.T) {
	t.Parallel()

	reader := NewSysfsReader(t.TempDir())
	if _, err := reader.Read(); err == nil {
		t.Fatalf("expected error when no battery entry exists")
	}
}

func TestSysfsReaderUnparseableLevel(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeBattery(t, root, "BAT0", "not-a-number\n", "")

	reader := NewSysfsReader(root)
	if _, err := reader.Read(); err == nil {
		t.Fatalf("expected parse error")
	}
}
