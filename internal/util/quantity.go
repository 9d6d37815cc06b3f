package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMemory converts a memory quantity such as "2G", "512Mi" or "1.5GB"
// to MiB. A bare number is bytes. The empty string is 0, meaning no limit.
func ParseMemory(memory string) (int, error) {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		return 0, nil
	}

	i := strings.IndexFunc(memory, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	num, unit := memory, ""
	if i >= 0 {
		num, unit = memory[:i], strings.TrimSpace(memory[i:])
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid memory value: %s", memory)
	}

	switch strings.ToUpper(unit) {
	case "", "B":
		return int(value / (1024 * 1024)), nil
	case "K", "KB", "KI", "KIB":
		return int(value / 1024), nil
	case "M", "MB", "MI", "MIB":
		return int(value), nil
	case "G", "GB", "GI", "GIB":
		return int(value * 1024), nil
	case "T", "TB", "TI", "TIB":
		return int(value * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("unknown memory unit: %s", unit)
	}
}
