package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MemInfo returns the fields of /proc/meminfo keyed by name, with values in
// kilobytes. Lines that do not parse are skipped.
func MemInfo() (map[string]uint64, error) {
	contents, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return nil, fmt.Errorf("error reading meminfo: %w", err)
	}
	info := make(map[string]uint64)
	for _, line := range strings.Split(string(contents), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		info[strings.TrimSuffix(fields[0], ":")] = value
	}
	return info, nil
}

// LoadAvg returns the 1, 5 and 15 minute load averages.
func LoadAvg() (load [3]float64, err error) {
	contents, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return load, fmt.Errorf("error reading loadavg: %w", err)
	}
	fields := strings.Fields(string(contents))
	if len(fields) < 3 {
		return load, fmt.Errorf("error malformed loadavg %q", string(contents))
	}
	for i := 0; i < 3; i++ {
		load[i], err = strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return load, fmt.Errorf("error parsing loadavg field %q: %w", fields[i], err)
		}
	}
	return load, nil
}
