package obslog

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitFromEnvConsoleOnly(t *testing.T) {
	t.Setenv("LOG_TO_CONSOLE", "true")
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_FORMAT", "console")

	if err := InitFromEnv(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if L() == nil {
		t.Fatal("global logger not set")
	}
	L().Info("smoke")
}

func TestInitFromEnvUnknownFormatFallsBack(t *testing.T) {
	t.Setenv("LOG_TO_CONSOLE", "true")
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_FORMAT", "legacy")

	if err := InitFromEnv(); err != nil {
		t.Fatalf("init with unknown format: %v", err)
	}
}

func TestInitFromEnvFileSink(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sub", "app.log")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", logPath)
	t.Setenv("LOG_FORMAT", "json")

	if err := InitFromEnv(); err != nil {
		t.Fatalf("init: %v", err)
	}
	L().Info("written to file")
	if err := L().Sync(); err != nil {
		t.Logf("sync: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":    zapcore.DebugLevel,
		"WARN":     zapcore.WarnLevel,
		"warning":  zapcore.WarnLevel,
		"error":    zapcore.ErrorLevel,
		"":         zapcore.InfoLevel,
		"whatever": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
