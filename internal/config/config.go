// Package config loads ploytecd's daemon settings from a .env file at
// the project root and/or process environment variables, the way the
// rest of this codebase's ancestor loaded device credentials.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EngineConfig holds everything cmd/ploytecd needs to start the
// engine: the shared memory region name, an optional device profile
// override, logging verbosity, the diagnostics HTTP address, and the
// USB transfer in-flight count.
type EngineConfig struct {
	ShmName          string
	ProductIDOverride uint16 // 0 = auto-detect from hotplug events
	LogLevel         string
	DiagAddr         string
	URBCount         uint32
	WatchdogTimeoutMS int
}

// DefaultShmName matches the reference driver's second shared memory
// path (`/hackerman.ploytecsharedmem`); the leading slash is added by
// internal/shmring when it resolves /dev/shm/<name>.
const DefaultShmName = "hackerman.ploytecsharedmem"

var (
	engineConfig *EngineConfig
	configLoaded bool
)

// LoadEngineConfig reads .env (if present) and environment variables,
// env vars taking precedence, and caches the result for the process
// lifetime.
func LoadEngineConfig() (*EngineConfig, error) {
	if engineConfig != nil && configLoaded {
		return engineConfig, nil
	}

	cfg := &EngineConfig{
		ShmName:           DefaultShmName,
		LogLevel:          "info",
		DiagAddr:          "127.0.0.1:8686",
		URBCount:          2,
		WatchdogTimeoutMS: 1000,
	}

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	applyEnvOverrides(cfg)

	engineConfig = cfg
	configLoaded = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *EngineConfig) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		setField(cfg, key, value)
	}
}

func applyEnvOverrides(cfg *EngineConfig) {
	for _, key := range []string{"PLOYTECD_SHM_NAME", "PLOYTECD_PRODUCT_ID", "PLOYTECD_LOG_LEVEL", "PLOYTECD_DIAG_ADDR", "PLOYTECD_URB_COUNT", "PLOYTECD_WATCHDOG_TIMEOUT_MS"} {
		if v := os.Getenv(key); v != "" {
			setField(cfg, key, v)
		}
	}
}

func setField(cfg *EngineConfig, key, value string) {
	switch key {
	case "PLOYTECD_SHM_NAME":
		cfg.ShmName = value
	case "PLOYTECD_PRODUCT_ID":
		if n, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 16); err == nil {
			cfg.ProductIDOverride = uint16(n)
		}
	case "PLOYTECD_LOG_LEVEL":
		cfg.LogLevel = value
	case "PLOYTECD_DIAG_ADDR":
		cfg.DiagAddr = value
	case "PLOYTECD_URB_COUNT":
		if n, err := strconv.ParseUint(value, 10, 32); err == nil {
			cfg.URBCount = uint32(n)
		}
	case "PLOYTECD_WATCHDOG_TIMEOUT_MS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.WatchdogTimeoutMS = n
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
