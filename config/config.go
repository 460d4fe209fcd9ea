package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Node holds daemon-level settings: where state lives, where RPC listens and
// how logs and telemetry are shipped.
type Node struct {
	DataDir              string  `toml:"DataDir"`
	Backend              string  `toml:"Backend"`
	RPCAddress           string  `toml:"RPCAddress"`
	RPCRequestsPerMinute float64 `toml:"RPCRequestsPerMinute"`
	RPCBurst             int     `toml:"RPCBurst"`
	LogLevel             string  `toml:"LogLevel"`
	LogFile              string  `toml:"LogFile"`
	LogMaxSizeMB         int     `toml:"LogMaxSizeMB"`
	LogMaxBackups        int     `toml:"LogMaxBackups"`
	LogMaxAgeDays        int     `toml:"LogMaxAgeDays"`
	OTLPEndpoint         string  `toml:"OTLPEndpoint"`
	MetricsEnabled       bool    `toml:"MetricsEnabled"`
}

// PctUpdate schedules a change of the per-epoch emission percentage, in
// points out of 10000.
type PctUpdate struct {
	Epoch uint64 `toml:"Epoch"`
	Pct   uint64 `toml:"Pct"`
}

// AllowanceGrant carves a transferable balance out of the vault at bootstrap.
// Amounts are decimal strings in base token units.
type AllowanceGrant struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Protocol fixes the economic constants. Amounts are decimal strings in base
// token units; addresses are bech32. GenesisTime zero means the daemon pins
// the deployment instant on first boot and persists it.
type Protocol struct {
	EpochLengthSecs     uint64           `toml:"EpochLengthSecs"`
	StartOffsetSecs     uint64           `toml:"StartOffsetSecs"`
	GenesisTime         int64            `toml:"GenesisTime"`
	TotalSupply         string           `toml:"TotalSupply"`
	LockToTokenRatio    string           `toml:"LockToTokenRatio"`
	Owner               string           `toml:"Owner"`
	FeeReceiver         string           `toml:"FeeReceiver"`
	LockerAddress       string           `toml:"LockerAddress"`
	VaultAddress        string           `toml:"VaultAddress"`
	PenaltyWithdrawals  bool             `toml:"PenaltyWithdrawals"`
	InitialLockDuration uint64           `toml:"InitialLockDuration"`
	LockEpochsDecayRate uint64           `toml:"LockEpochsDecayRate"`
	FixedInitialAmounts []string         `toml:"FixedInitialAmounts"`
	InitialPerEpochPct  uint64           `toml:"InitialPerEpochPct"`
	EpochPctSchedule    []PctUpdate      `toml:"EpochPctSchedule"`
	Allowances          []AllowanceGrant `toml:"Allowances"`
	BoostGraceEpochs    uint64           `toml:"BoostGraceEpochs"`
	MaxBoostMult        uint64           `toml:"MaxBoostMult"`
	MaxBoostablePct     uint64           `toml:"MaxBoostablePct"`
	DecayBoostPct       uint64           `toml:"DecayBoostPct"`
}

// Config is the daemon's on-disk configuration.
type Config struct {
	Node     Node     `toml:"node"`
	Protocol Protocol `toml:"protocol"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyFallbacks(cfg)
	return cfg, nil
}

func applyFallbacks(cfg *Config) {
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = "./vetoken-data"
	}
	if cfg.Node.Backend == "" {
		cfg.Node.Backend = "leveldb"
	}
	if cfg.Node.RPCAddress == "" {
		cfg.Node.RPCAddress = ":8080"
	}
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}
}

// Default returns the configuration the daemon ships with: one-week epochs
// aligned four days back (epochs roll on Sunday 00:00 UTC), a 100M token
// supply at an 18-decimal lock ratio, two fixed 1M-token epochs followed by
// 1% of unallocated supply stepping down to 0.5% after one year, claims
// locked for 26 epochs decaying every second epoch, and a 2x boost ceiling.
func Default() *Config {
	return &Config{
		Node: Node{
			DataDir:              "./vetoken-data",
			Backend:              "leveldb",
			RPCAddress:           ":8080",
			RPCRequestsPerMinute: 600,
			RPCBurst:             30,
			LogLevel:             "info",
			LogMaxSizeMB:         100,
			LogMaxBackups:        3,
			LogMaxAgeDays:        28,
			MetricsEnabled:       true,
		},
		Protocol: Protocol{
			EpochLengthSecs:     86400 * 7,
			StartOffsetSecs:     86400 * 4,
			TotalSupply:         "100000000000000000000000000",
			LockToTokenRatio:    "1000000000000000000",
			PenaltyWithdrawals:  true,
			InitialLockDuration: 26,
			LockEpochsDecayRate: 2,
			FixedInitialAmounts: []string{
				"1000000000000000000000000",
				"1000000000000000000000000",
			},
			InitialPerEpochPct: 100,
			EpochPctSchedule: []PctUpdate{
				{Epoch: 13, Pct: 90},
				{Epoch: 26, Pct: 80},
				{Epoch: 39, Pct: 70},
				{Epoch: 52, Pct: 50},
			},
			BoostGraceEpochs: 2,
			MaxBoostMult:     2,
			MaxBoostablePct:  10000,
			DecayBoostPct:    10000,
		},
	}
}

// createDefault creates and saves a default configuration file. Owner and
// custody addresses are left empty; Validate refuses to run the daemon until
// they are filled in.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
