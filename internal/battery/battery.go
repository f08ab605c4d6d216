// Package battery reads the device battery level from the Linux power
// supply sysfs. Readings are best-effort; callers treat failures as "level
// unknown", never as fatal.
package battery

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"micbridge/internal/domain"
)

const defaultSysfsRoot = "/sys/class/power_supply"

// SysfsReader implements ports.BatteryReader against a power_supply entry.
type SysfsReader struct {
	dir string
}

// NewSysfsReader probes for a battery entry under root (defaulting to the
// standard sysfs location) and returns a reader bound to the first one with
// a capacity file. The reader still works if the entry disappears later;
// reads just start failing.
func NewSysfsReader(root string) *SysfsReader {
	if root == "" {
		root = defaultSysfsRoot
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return &SysfsReader{dir: filepath.Join(root, "BAT0")}
	}
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "capacity")); err == nil {
			return &SysfsReader{dir: dir}
		}
	}
	return &SysfsReader{dir: filepath.Join(root, "BAT0")}
}

// Read returns the current battery level and charging state.
func (r *SysfsReader) Read() (domain.BatteryInfo, error) {
	raw, err := os.ReadFile(filepath.Join(r.dir, "capacity"))
	if err != nil {
		return domain.BatteryInfo{}, fmt.Errorf("battery level unavailable: %w", err)
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return domain.BatteryInfo{}, fmt.Errorf("unparseable battery level: %w", err)
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	info := domain.BatteryInfo{Level: level}
	if status, err := os.ReadFile(filepath.Join(r.dir, "status")); err == nil {
		switch strings.TrimSpace(string(status)) {
		case "Charging", "Full":
			info.Charging = true
		}
	}
	return info, nil
}
