package server

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

var osReleasePath = "/etc/os-release"

// HostInfo is reported by the status endpoint.
type HostInfo struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Uptime   string `json:"uptime"`
}

// GetHostInfo describes the host the bridge runs on. started is the
// process start time.
func GetHostInfo(started time.Time) HostInfo {
	hostname, _ := os.Hostname()
	return HostInfo{
		Hostname: hostname,
		OS:       GetOsRelease(),
		Uptime:   FormatUptime(time.Since(started)),
	}
}

// GetOsRelease reads /etc/os-release and returns the distribution ID
func GetOsRelease() string {
	file, err := os.Open(osReleasePath)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID=") {
			// ID=debian or ID="debian"
			id := strings.TrimPrefix(line, "ID=")
			id = strings.Trim(id, "\"")
			return strings.ToLower(id)
		}
	}
	return ""
}

// FormatUptime formats a duration into a human-readable string
func FormatUptime(duration time.Duration) string {
	totalSeconds := int(duration.Seconds())
	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
