package config

import (
	"testing"
)

func TestInitialize(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:9000\"\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:9000", cfg.Server.ListenAddress)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	reset()
	t.Cleanup(reset)

	first := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:9001\"\n")
	second := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:9002\"\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}
	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:9001" {
		t.Errorf("expected first config to win, got %q", got)
	}
}

func TestReloadConfig_KeepsCurrentOnFailure(t *testing.T) {
	reset()
	t.Cleanup(reset)

	good := writeConfig(t, "engine:\n  fraud_mode: first_match\n")
	bad := writeConfig(t, "engine:\n  fraud_mode: never\n")

	if err := ReloadConfig(good); err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if err := ReloadConfig(bad); err == nil {
		t.Fatal("expected error reloading invalid config")
	}
	if got := GetConfig().Engine.FraudMode; got != "first_match" {
		t.Errorf("expected previous config kept, got fraud mode %q", got)
	}
}

func TestMustGetConfig_Panics(t *testing.T) {
	reset()
	t.Cleanup(reset)

	defer func() {
		if recover() == nil {
			t.Error("expected panic before Initialize")
		}
	}()
	MustGetConfig()
}
