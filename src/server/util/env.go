package util

import (
	"bufio"
	"os"
	"strings"
)

const envLocalFile = ".env.local"

// Getenv returns the process environment value for key, or the value from
// .env.local in the working directory when the process has none.
func Getenv(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return lookupEnvFile(envLocalFile, key)
}

func lookupEnvFile(path, key string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), "\"'")
	}
	return ""
}
