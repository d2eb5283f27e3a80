package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"refnet/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress           string   `toml:"RPCAddress"`
	DataDir              string   `toml:"DataDir"`
	GenesisFile          string   `toml:"GenesisFile"`
	NodeKeystorePath     string   `toml:"NodeKeystorePath"`
	NetworkName          string   `toml:"NetworkName"`
	RPCTrustedProxies    []string `toml:"RPCTrustedProxies"`
	RPCTrustProxyHeaders bool     `toml:"RPCTrustProxyHeaders"`
	RPCReadHeaderTimeout int      `toml:"RPCReadHeaderTimeout"`
	RPCReadTimeout       int      `toml:"RPCReadTimeout"`
	RPCWriteTimeout      int      `toml:"RPCWriteTimeout"`
	RPCIdleTimeout       int      `toml:"RPCIdleTimeout"`

	Global Global `toml:"global"`
}

// Option adjusts how Load materialises missing pieces of the configuration.
type Option func(*loadOptions)

type loadOptions struct {
	keystorePassphrase string
	passphraseSet      bool
	passphraseFn       func() (string, error)
}

// WithKeystorePassphrase supplies the passphrase used when Load has to create
// or rewrite the node keystore. Without it Load refuses to generate a key.
func WithKeystorePassphrase(passphrase string) Option {
	return func(o *loadOptions) {
		o.keystorePassphrase = passphrase
		o.passphraseSet = true
	}
}

// WithKeystorePassphraseSource registers a lazy passphrase resolver. It is only
// invoked when Load actually has to create a keystore, so interactive prompts
// stay silent on nodes whose keystore already exists.
func WithKeystorePassphraseSource(fn func() (string, error)) Option {
	return func(o *loadOptions) {
		o.passphraseFn = fn
	}
}

// resolvePassphrase yields the configured passphrase, consulting the lazy
// source when no literal value was supplied. The second return reports whether
// any passphrase is available at all.
func (o loadOptions) resolvePassphrase() (string, bool, error) {
	if o.passphraseSet {
		return o.keystorePassphrase, true, nil
	}
	if o.passphraseFn != nil {
		value, err := o.passphraseFn()
		if err != nil {
			return "", false, err
		}
		return value, true, nil
	}
	return "", false, nil
}

// Load loads the configuration from the given path, writing a default file
// (and a fresh keystore) when none exists yet.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	cfg := defaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, key := range meta.Undecoded() {
		if key.String() == "NodeKey" {
			return nil, fmt.Errorf("config file %s uses deprecated NodeKey field; move the key into a keystore file", path)
		}
	}

	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "refnet-local"
	}
	if cfg.RPCTrustedProxies == nil {
		cfg.RPCTrustedProxies = []string{}
	}
	applyTimeoutDefaults(cfg)

	if err := ValidateConfig(cfg.Global); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:        ":8080",
		DataDir:           "./refnet-data",
		GenesisFile:       "",
		NetworkName:       "refnet-local",
		RPCTrustedProxies: []string{},
		Global:            defaultGlobalConfig(),
	}
}

func applyTimeoutDefaults(cfg *Config) {
	if cfg.RPCReadHeaderTimeout <= 0 {
		cfg.RPCReadHeaderTimeout = 5
	}
	if cfg.RPCReadTimeout <= 0 {
		cfg.RPCReadTimeout = 15
	}
	if cfg.RPCWriteTimeout <= 0 {
		cfg.RPCWriteTimeout = 15
	}
	if cfg.RPCIdleTimeout <= 0 {
		cfg.RPCIdleTimeout = 120
	}
}

// ensureKeystore makes sure the node has an encrypted key on disk, creating
// one when missing, and records the resolved path back into the config file.
func ensureKeystore(configPath string, cfg *Config, options loadOptions) error {
	keystorePath := cfg.NodeKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	switch _, err := os.Stat(keystorePath); {
	case os.IsNotExist(err):
		if err := generateKeystore(keystorePath, options); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if cfg.NodeKeystorePath == keystorePath {
		return nil
	}
	cfg.NodeKeystorePath = keystorePath
	return persist(configPath, cfg)
}

// generateKeystore mints a fresh node key and encrypts it at path. The
// passphrase is resolved lazily so interactive prompts only fire when a key
// actually has to be created.
func generateKeystore(path string, options loadOptions) error {
	passphrase, ok, err := options.resolvePassphrase()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("keystore %s does not exist and no passphrase was provided to create it", path)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystore(path, key, passphrase)
}

// createDefault writes a starter config next to a freshly generated keystore.
func createDefault(path string, options loadOptions) (*Config, error) {
	cfg := defaultConfig()
	cfg.NodeKeystorePath = defaultKeystorePath(path)
	applyTimeoutDefaults(cfg)

	if err := generateKeystore(cfg.NodeKeystorePath, options); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "node.keystore")
}
