package config

import "testing"

func resetConfigCache() {
	engineConfig = nil
	configLoaded = false
}

func TestLoadEngineConfigDefaults(t *testing.T) {
	resetConfigCache()
	t.Cleanup(resetConfigCache)

	cfg, err := LoadEngineConfig()
	if err != nil {
		t.Fatalf("LoadEngineConfig: %v", err)
	}
	if cfg.ShmName != DefaultShmName {
		t.Errorf("ShmName = %q, want %q", cfg.ShmName, DefaultShmName)
	}
	if cfg.URBCount != 2 {
		t.Errorf("URBCount = %d, want 2", cfg.URBCount)
	}
	if cfg.DiagAddr == "" {
		t.Error("DiagAddr should have a non-empty default")
	}
}

func TestLoadEngineConfigEnvOverride(t *testing.T) {
	resetConfigCache()
	t.Cleanup(resetConfigCache)

	t.Setenv("PLOYTECD_SHM_NAME", "test-shared-mem")
	t.Setenv("PLOYTECD_PRODUCT_ID", "0xFFDB")
	t.Setenv("PLOYTECD_URB_COUNT", "4")

	cfg, err := LoadEngineConfig()
	if err != nil {
		t.Fatalf("LoadEngineConfig: %v", err)
	}
	if cfg.ShmName != "test-shared-mem" {
		t.Errorf("ShmName = %q, want test-shared-mem", cfg.ShmName)
	}
	if cfg.ProductIDOverride != 0xFFDB {
		t.Errorf("ProductIDOverride = %#04x, want 0xffdb", cfg.ProductIDOverride)
	}
	if cfg.URBCount != 4 {
		t.Errorf("URBCount = %d, want 4", cfg.URBCount)
	}
}

func TestParseEnvFileIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg := &EngineConfig{}
	parseEnvFile("# a comment\n\nPLOYTECD_LOG_LEVEL=debug\n", cfg)
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}
