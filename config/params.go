package config

import (
	"fmt"
	"math/big"
	"time"

	"vetoken/crypto"
)

// ParsedAllowance is an AllowanceGrant with its fields decoded.
type ParsedAllowance struct {
	Address [20]byte
	Amount  *big.Int
}

// Runtime is the parsed form of Protocol consumed by the daemon when wiring
// engines.
type Runtime struct {
	EpochLength         time.Duration
	StartOffset         time.Duration
	GenesisTime         time.Time
	TotalSupply         *big.Int
	LockToTokenRatio    *big.Int
	Owner               [20]byte
	FeeReceiver         [20]byte
	Locker              [20]byte
	Vault               [20]byte
	PenaltyWithdrawals  bool
	InitialLockDuration uint64
	LockEpochsDecayRate uint64
	FixedInitialAmounts []*big.Int
	InitialPerEpochPct  uint64
	EpochPctSchedule    []PctUpdate
	Allowances          []ParsedAllowance
	BoostGraceEpochs    uint64
	MaxBoostMult        uint64
	MaxBoostablePct     uint64
	DecayBoostPct       uint64
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("protocol: %s %q is not a decimal amount", field, value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("protocol: %s must not be negative", field)
	}
	return amount, nil
}

func parseAddress(field, value string) ([20]byte, error) {
	if value == "" {
		return [20]byte{}, fmt.Errorf("protocol: %s address is required", field)
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("protocol: %s: %w", field, err)
	}
	return addr.Raw(), nil
}

// Parse decodes the protocol section into runtime values, rejecting any
// field the engines could not accept.
func (p Protocol) Parse() (*Runtime, error) {
	if p.EpochLengthSecs == 0 {
		return nil, fmt.Errorf("protocol: EpochLengthSecs must be positive")
	}
	if p.StartOffsetSecs >= p.EpochLengthSecs {
		return nil, fmt.Errorf("protocol: StartOffsetSecs must be below the epoch length")
	}

	rt := &Runtime{
		EpochLength:         time.Duration(p.EpochLengthSecs) * time.Second,
		StartOffset:         time.Duration(p.StartOffsetSecs) * time.Second,
		PenaltyWithdrawals:  p.PenaltyWithdrawals,
		InitialLockDuration: p.InitialLockDuration,
		LockEpochsDecayRate: p.LockEpochsDecayRate,
		InitialPerEpochPct:  p.InitialPerEpochPct,
		BoostGraceEpochs:    p.BoostGraceEpochs,
		MaxBoostMult:        p.MaxBoostMult,
		MaxBoostablePct:     p.MaxBoostablePct,
		DecayBoostPct:       p.DecayBoostPct,
	}
	if p.GenesisTime < 0 {
		return nil, fmt.Errorf("protocol: GenesisTime must not be negative")
	}
	if p.GenesisTime > 0 {
		rt.GenesisTime = time.Unix(p.GenesisTime, 0).UTC()
	}

	var err error
	if rt.TotalSupply, err = parseAmount("TotalSupply", p.TotalSupply); err != nil {
		return nil, err
	}
	if rt.TotalSupply.Sign() == 0 {
		return nil, fmt.Errorf("protocol: TotalSupply must be positive")
	}
	if rt.LockToTokenRatio, err = parseAmount("LockToTokenRatio", p.LockToTokenRatio); err != nil {
		return nil, err
	}
	if rt.LockToTokenRatio.Sign() == 0 {
		return nil, fmt.Errorf("protocol: LockToTokenRatio must be positive")
	}

	if rt.Owner, err = parseAddress("Owner", p.Owner); err != nil {
		return nil, err
	}
	if rt.FeeReceiver, err = parseAddress("FeeReceiver", p.FeeReceiver); err != nil {
		return nil, err
	}
	if rt.Locker, err = parseAddress("LockerAddress", p.LockerAddress); err != nil {
		return nil, err
	}
	if rt.Vault, err = parseAddress("VaultAddress", p.VaultAddress); err != nil {
		return nil, err
	}
	if rt.Locker == rt.Vault {
		return nil, fmt.Errorf("protocol: LockerAddress and VaultAddress must differ")
	}

	rt.FixedInitialAmounts = make([]*big.Int, len(p.FixedInitialAmounts))
	for i, value := range p.FixedInitialAmounts {
		amount, err := parseAmount(fmt.Sprintf("FixedInitialAmounts[%d]", i), value)
		if err != nil {
			return nil, err
		}
		rt.FixedInitialAmounts[i] = amount
	}

	if p.InitialPerEpochPct > 10000 {
		return nil, fmt.Errorf("protocol: InitialPerEpochPct beyond 10000 points")
	}
	lastEpoch := uint64(0)
	for _, update := range p.EpochPctSchedule {
		if update.Epoch <= lastEpoch {
			return nil, fmt.Errorf("protocol: EpochPctSchedule epochs must be strictly increasing")
		}
		if update.Pct > 10000 {
			return nil, fmt.Errorf("protocol: EpochPctSchedule pct beyond 10000 points")
		}
		lastEpoch = update.Epoch
	}
	rt.EpochPctSchedule = append([]PctUpdate(nil), p.EpochPctSchedule...)

	rt.Allowances = make([]ParsedAllowance, len(p.Allowances))
	for i, grant := range p.Allowances {
		addr, err := parseAddress(fmt.Sprintf("Allowances[%d]", i), grant.Address)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(fmt.Sprintf("Allowances[%d]", i), grant.Amount)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("protocol: Allowances[%d] amount must be positive", i)
		}
		rt.Allowances[i] = ParsedAllowance{Address: addr, Amount: amount}
	}

	if p.LockEpochsDecayRate == 0 {
		return nil, fmt.Errorf("protocol: LockEpochsDecayRate must be positive")
	}
	if p.MaxBoostMult == 0 {
		return nil, fmt.Errorf("protocol: MaxBoostMult must be positive")
	}
	if p.BoostGraceEpochs < 2 {
		return nil, fmt.Errorf("protocol: BoostGraceEpochs below 2 pays boosted claims before anyone could lock")
	}
	if p.MaxBoostablePct > 10000 || p.DecayBoostPct > 10000 {
		return nil, fmt.Errorf("protocol: boost pcts beyond 10000 points")
	}
	return rt, nil
}
