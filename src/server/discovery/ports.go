// Package discovery lists serial devices a control surface may be attached to.
package discovery

import (
	"fmt"
	"path/filepath"
	"sort"
)

// portPatterns covers USB serial adapters, CDC ACM boards and onboard UARTs.
var portPatterns = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyS*",
	"/dev/serial/by-id/*",
}

// ListPorts returns the candidate device paths, sorted and without
// duplicates.
func ListPorts() ([]string, error) {
	seen := make(map[string]bool)
	var ports []string
	for _, pattern := range portPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				ports = append(ports, m)
			}
		}
	}
	sort.Strings(ports)
	return ports, nil
}
