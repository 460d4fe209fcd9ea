package config

import (
	"fmt"
	"math/big"

	"vetoken/native/locker"
)

// Validate checks the whole configuration before the daemon boots. Load
// never validates; a freshly created default file is expected to fail here
// until the operator fills in the protocol addresses.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: missing")
	}
	switch cfg.Node.Backend {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("node: unknown backend %q", cfg.Node.Backend)
	}
	if cfg.Node.DataDir == "" && cfg.Node.Backend != "memory" {
		return fmt.Errorf("node: DataDir required for backend %q", cfg.Node.Backend)
	}
	if cfg.Node.RPCAddress == "" {
		return fmt.Errorf("node: RPCAddress required")
	}

	rt, err := cfg.Protocol.Parse()
	if err != nil {
		return err
	}
	units := new(big.Int).Div(rt.TotalSupply, rt.LockToTokenRatio)
	if !units.IsUint64() || units.Uint64() > locker.MaxLockUnits {
		return fmt.Errorf("protocol: supply of %s lock units exceeds ceiling %d", units, uint64(locker.MaxLockUnits))
	}
	return nil
}
