package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"refnet/crypto"
)

const testPassphrase = "test-passphrase"

// writeNodeConfig drops a config file into a fresh temp dir, prepending a
// NodeKeystorePath inside that dir so Load does not touch the working tree.
func writeNodeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	keystore := filepath.Join(dir, "node.keystore")
	path := filepath.Join(dir, "config.toml")
	full := fmt.Sprintf("NodeKeystorePath = %q\n", keystore) + body
	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadParsesSettings(t *testing.T) {
	path := writeNodeConfig(t, `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
GenesisFile = "genesis.json"
NetworkName = "testnet"
RPCTrustedProxies = ["10.0.0.1"]
RPCTrustProxyHeaders = true
RPCReadHeaderTimeout = 6
RPCReadTimeout = 20
RPCWriteTimeout = 18
RPCIdleTimeout = 45

[global.pauses]
Referral = true

[global.quotas.referral]
MaxRequestsPerMin = 30
MaxRNETPerEpoch = 5000
EpochSeconds = 120
`)

	cfg, err := Load(path, WithKeystorePassphrase(testPassphrase))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.GenesisFile != "genesis.json" || cfg.NetworkName != "testnet" {
		t.Fatalf("basic settings not applied: %+v", cfg)
	}
	if len(cfg.RPCTrustedProxies) != 1 || cfg.RPCTrustedProxies[0] != "10.0.0.1" || !cfg.RPCTrustProxyHeaders {
		t.Fatalf("proxy settings not applied: %+v", cfg)
	}
	if cfg.RPCReadHeaderTimeout != 6 || cfg.RPCReadTimeout != 20 || cfg.RPCWriteTimeout != 18 || cfg.RPCIdleTimeout != 45 {
		t.Fatalf("timeouts not applied: %+v", cfg)
	}
	if !cfg.Global.Pauses.Referral {
		t.Fatal("referral pause override missing")
	}
	quota := cfg.Global.Quotas.Referral
	if quota.MaxRequestsPerMin != 30 || quota.MaxRNETPerEpoch != 5000 || quota.EpochSeconds != 120 {
		t.Fatalf("referral quota = %+v", quota)
	}
	runtime := quota.Runtime()
	if runtime.MaxRequestsPerMin != 30 || runtime.MaxRNETPerEpoch != 5000 || runtime.EpochSeconds != 120 {
		t.Fatalf("runtime quota = %+v", runtime)
	}
	if overrides := cfg.Global.Pauses.Overrides(); !overrides["referral"] {
		t.Fatalf("pause overrides = %v", overrides)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeNodeConfig(t, "RPCAddress = \":8080\"\n")

	cfg, err := Load(path, WithKeystorePassphrase(testPassphrase))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Global != defaultGlobalConfig() {
		t.Fatalf("global defaults = %+v", cfg.Global)
	}
	if cfg.RPCReadHeaderTimeout != 5 || cfg.RPCIdleTimeout != 120 {
		t.Fatalf("timeout defaults = %+v", cfg)
	}
	if cfg.NetworkName != "refnet-local" {
		t.Fatalf("network default = %q", cfg.NetworkName)
	}
}

func TestLoadRejectsQuotaWithoutEpoch(t *testing.T) {
	path := writeNodeConfig(t, `RPCAddress = ":8080"

[global.quotas.referral]
MaxRequestsPerMin = 10
EpochSeconds = 0
`)
	if _, err := Load(path, WithKeystorePassphrase(testPassphrase)); err == nil {
		t.Fatal("a quota without an epoch length must be rejected")
	}
}

func TestLoadNeedsPassphraseForFreshKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := Load(path); err == nil {
		t.Fatal("creating a keystore without a passphrase should fail")
	}
}

func TestLoadCreatesAndReusesKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	const passphrase = "strong-passphrase"

	cfg, err := Load(path, WithKeystorePassphrase(passphrase))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeKeystorePath == "" {
		t.Fatal("keystore path not set")
	}
	if _, err := os.Stat(cfg.NodeKeystorePath); err != nil {
		t.Fatalf("keystore file missing: %v", err)
	}

	key, err := crypto.LoadFromKeystore(cfg.NodeKeystorePath, passphrase)
	if err != nil {
		t.Fatalf("decrypt keystore: %v", err)
	}
	if key == nil {
		t.Fatal("decrypted key is nil")
	}

	// The second load must pick up the persisted file without a passphrase.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.NodeKeystorePath != cfg.NodeKeystorePath {
		t.Fatalf("keystore path changed: %s then %s", cfg.NodeKeystorePath, again.NodeKeystorePath)
	}
}

func TestLoadRejectsDeprecatedNodeKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("RPCAddress = \":8080\"\nNodeKey = \"deadbeef\"\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("deprecated NodeKey field should be rejected")
	}
}
