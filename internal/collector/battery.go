package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/battesty/battesty/internal/engine"
)

// sysfsRoot is swapped out by tests.
var sysfsRoot = "/sys"

// BatterySource reads battery telemetry from /sys/class/power_supply/BAT*.
type BatterySource struct{}

func NewBatterySource() *BatterySource {
	return &BatterySource{}
}

// Collect reads the first battery's uevent and converts it to engine units:
// millivolts, milliamps (negative while discharging), milliwatt-hours.
func (b *BatterySource) Collect() (*engine.Sample, error) {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/power_supply/BAT*"))
	if err != nil {
		return nil, fmt.Errorf("glob battery: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no battery found")
	}

	data, err := os.ReadFile(filepath.Join(matches[0], "uevent"))
	if err != nil {
		return nil, fmt.Errorf("read uevent: %w", err)
	}

	props := parseUevent(string(data))
	status := props["POWER_SUPPLY_STATUS"]
	percent, _ := strconv.ParseFloat(props["POWER_SUPPLY_CAPACITY"], 64)
	voltageUV, _ := strconv.ParseInt(props["POWER_SUPPLY_VOLTAGE_NOW"], 10, 64)
	currentUA, _ := strconv.ParseInt(props["POWER_SUPPLY_CURRENT_NOW"], 10, 64)

	// Some firmware reports "Discharging" at full capacity while on AC power.
	// Detect this and correct to "Full".
	if status == "Discharging" && percent >= 100 && isACOnline() {
		status = "Full"
	}

	// sysfs current_now sign conventions vary by driver; normalize to
	// magnitude and take polarity from the reported status.
	currentMA := float64(abs64(currentUA)) / 1000
	if status == "Discharging" {
		currentMA = -currentMA
	}

	s := &engine.Sample{
		Timestamp:         time.Now(),
		ChargePercent:     percent,
		CurrentMA:         currentMA,
		VoltageMV:         float64(voltageUV) / 1000,
		FullCapacityMWH:   capacityMWH(props, "POWER_SUPPLY_ENERGY_FULL", "POWER_SUPPLY_CHARGE_FULL"),
		DesignCapacityMWH: capacityMWH(props, "POWER_SUPPLY_ENERGY_FULL_DESIGN", "POWER_SUPPLY_CHARGE_FULL_DESIGN"),
		Charging:          status == "Charging",
	}
	return s, nil
}

// capacityMWH prefers the energy-unit property (µWh) and falls back to the
// charge-unit one (µAh) scaled by the design voltage.
func capacityMWH(props map[string]string, energyKey, chargeKey string) float64 {
	if raw, ok := props[energyKey]; ok {
		if uwh, err := strconv.ParseInt(raw, 10, 64); err == nil && uwh > 0 {
			return float64(uwh) / 1000
		}
	}
	chargeUAH, _ := strconv.ParseInt(props[chargeKey], 10, 64)
	voltageUV, _ := strconv.ParseInt(props["POWER_SUPPLY_VOLTAGE_MIN_DESIGN"], 10, 64)
	if chargeUAH <= 0 || voltageUV <= 0 {
		return 0
	}
	// µAh * µV = 1e-9 mWh
	return float64(chargeUAH) * float64(voltageUV) * 1e-9
}

// isACOnline checks if any AC adapter is online.
func isACOnline() bool {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/power_supply/AC*/online"))
	if err != nil {
		return false
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err == nil && strings.TrimSpace(string(data)) == "1" {
			return true
		}
	}
	return false
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
