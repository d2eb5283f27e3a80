package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"refnet/cmd/internal/passphrase"
	"refnet/config"
	"refnet/core"
	"refnet/core/genesis"
	"refnet/crypto"
	"refnet/observability/logging"
	"refnet/rpc"
	"refnet/storage"
)

const (
	nodePassEnv        = "REFNET_NODE_PASS"
	genesisPathEnv     = "REFNET_GENESIS"
	allowEmptyStateEnv = "REFNET_ALLOW_EMPTY_STATE"
	rpcTokenEnv        = "REFNET_RPC_TOKEN"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis spec JSON file (overrides REFNET_GENESIS and config GenesisFile)")
	allowEmptyStateFlag := flag.Bool("allow-empty-state", false, "DEV ONLY: start without a genesis spec even when state was never initialised")
	flag.Parse()

	allowEmptyStateCLISet := flagWasProvided("allow-empty-state")

	env := strings.TrimSpace(os.Getenv("REFNET_ENV"))
	logger := logging.Setup("refnetd", env)

	passSource := passphrase.NewSource(nodePassEnv)

	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	allowEmptyState, err := resolveAllowEmptyState(allowEmptyStateCLISet, *allowEmptyStateFlag, os.LookupEnv)
	if err != nil {
		logger.Error("Failed to resolve empty-state setting", slog.Any("error", err))
		os.Exit(1)
	}

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	nodeKey, err := loadNodeKey(cfg, passSource.Get)
	if err != nil {
		panic(fmt.Sprintf("Failed to load node key: %v", err))
	}

	node, err := core.NewNode(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to create node: %v", err))
	}
	node.SetClaimQuota(cfg.Global.Quotas.Referral.Runtime())
	node.SetPauseOverrides(cfg.Global.Pauses.Overrides())

	if genesisPath != "" {
		spec, err := genesis.LoadGenesisSpec(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis spec: %v", err))
		}
		if err := node.ApplyGenesis(spec); err != nil {
			panic(fmt.Sprintf("Failed to apply genesis spec: %v", err))
		}
	} else {
		applied, err := node.GenesisApplied()
		if err != nil {
			panic(fmt.Sprintf("Failed to inspect state database: %v", err))
		}
		if !applied && !allowEmptyState {
			logger.Error(fmt.Sprintf("no genesis spec provided and state was never initialised; supply one via --genesis, %s, or config, or explicitly allow an empty state (--allow-empty-state / %s)", genesisPathEnv, allowEmptyStateEnv))
			os.Exit(1)
		}
		if !applied {
			logger.Warn("starting with uninitialised state; no tokens or balances exist yet")
		}
	}

	rpcToken := os.Getenv(rpcTokenEnv)
	if strings.TrimSpace(rpcToken) == "" {
		logger.Warn(fmt.Sprintf("%s is not set; mutating RPC methods will be rejected", rpcTokenEnv))
	}

	rpcServer := rpc.NewServer(node, rpc.ServerConfig{
		TrustProxyHeaders: cfg.RPCTrustProxyHeaders,
		TrustedProxies:    append([]string{}, cfg.RPCTrustedProxies...),
		ReadHeaderTimeout: time.Duration(cfg.RPCReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.RPCReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPCWriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.RPCIdleTimeout) * time.Second,
	})
	rpcErrCh := make(chan error, 1)
	go func() {
		err := rpcServer.Start(cfg.RPCAddress)
		rpcErrCh <- err
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		if err, ok := <-rpcErrCh; ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
		}
	}()

	logger.Info("RefNet node initialised and running",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("identity", nodeKey.PubKey().Address().String()),
		logging.MaskField("rpcToken", rpcToken))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC server shutdown failed", slog.Any("error", err))
	}
	logger.Info("RefNet node stopped")
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath decides which genesis spec to load: the CLI flag wins,
// then the environment, then the config file. An empty result means no spec is
// applied on this boot.
func resolveGenesisPath(cliPath string, cfgPath string, lookup envLookupFunc) string {
	trimmedCLI := strings.TrimSpace(cliPath)
	if trimmedCLI != "" {
		return trimmedCLI
	}

	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			trimmedEnv := strings.TrimSpace(value)
			if trimmedEnv != "" {
				return trimmedEnv
			}
		}
	}

	return strings.TrimSpace(cfgPath)
}

func resolveAllowEmptyState(cliSet bool, cliValue bool, lookup envLookupFunc) (bool, error) {
	allow := false

	if lookup != nil {
		if value, ok := lookup(allowEmptyStateEnv); ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				parsed, err := strconv.ParseBool(trimmed)
				if err != nil {
					return false, fmt.Errorf("invalid %s value %q: %w", allowEmptyStateEnv, trimmed, err)
				}
				allow = parsed
			}
		}
	}

	if cliSet {
		allow = cliValue
	}

	return allow, nil
}

func flagWasProvided(name string) bool {
	provided := false
	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == name {
			provided = true
		}
	})
	return provided
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// loadNodeKey decrypts the node keystore. The key is the service identity used
// for operator tooling; a failed decrypt aborts startup so a wrong passphrase
// surfaces immediately rather than on first use.
func loadNodeKey(cfg *config.Config, resolvePassphrase func() (string, error)) (*crypto.PrivateKey, error) {
	if cfg.NodeKeystorePath == "" {
		return nil, fmt.Errorf("node keystore path not configured")
	}

	if resolvePassphrase == nil {
		return nil, fmt.Errorf("node keystore passphrase required; set %s or run interactively", nodePassEnv)
	}

	passphrase, err := resolvePassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain node keystore passphrase: %w", err)
	}
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("node keystore passphrase cannot be empty")
	}

	key, err := crypto.LoadFromKeystore(cfg.NodeKeystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", cfg.NodeKeystorePath, err)
	}
	return key, nil
}
