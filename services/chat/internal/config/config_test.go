package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseConfig = `
port: "8083"
databaseURL: "file:chat.db"
bookServiceURL: "http://localhost:8082"
internalJWTPrivateKeyPath: /keys/internal.pem
secretKeyPath: /keys/master.key
redisAddr: "localhost:6379"
`

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, baseConfig)
	t.Setenv("CHAT_PREVIEW_PAGES", "5")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PreviewPages != 5 {
		t.Fatalf("previewPages = %d, want env override 5", cfg.PreviewPages)
	}
	if cfg.RecentMessages != 10 || cfg.ChatRateLimit != 30 {
		t.Fatalf("defaults = %d %d", cfg.RecentMessages, cfg.ChatRateLimit)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("trusted proxies = %q", cfg.TrustedProxies)
	}
}

func TestLoadConfigEnvOverridesPath(t *testing.T) {
	path := writeConfig(t, baseConfig)
	t.Setenv("SOCRATIUM_CHAT_CONFIG", path)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8083" {
		t.Fatalf("port = %q", cfg.Port)
	}
}

func TestLoadRateLimitDisabledNeedsNoRedis(t *testing.T) {
	body := strings.Replace(baseConfig, `redisAddr: "localhost:6379"`, "chatRateLimit: -1", 1)
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChatRateLimit > 0 {
		t.Fatalf("chatRateLimit = %d, want disabled", cfg.ChatRateLimit)
	}
}

func TestLoadValidates(t *testing.T) {
	cases := []struct {
		old, new, want string
	}{
		{`bookServiceURL: "http://localhost:8082"`, "", "bookServiceURL"},
		{"secretKeyPath: /keys/master.key", "", "secretKeyPath"},
		{"internalJWTPrivateKeyPath: /keys/internal.pem", "", "internalJWTPrivateKeyPath"},
		{`redisAddr: "localhost:6379"`, "", "redisAddr is required"},
		{"", "chatTimeout: later", "chatTimeout"},
		{"", "chatRateWindow: -5s", "chatRateWindow"},
	}
	for _, tc := range cases {
		body := baseConfig + tc.new + "\n"
		if tc.old != "" {
			body = strings.Replace(baseConfig, tc.old, tc.new, 1)
		}
		_, err := Load(writeConfig(t, body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%q: err = %v, want containing %q", tc.new, err, tc.want)
		}
	}
}
