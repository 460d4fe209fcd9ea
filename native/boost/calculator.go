package boost

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"vetoken/core/epoch"
)

// Share denominators: lock-weight shares are 1e18 fixed point, boost caps are
// expressed in points out of 10000.
var (
	pctScale  = uint256.NewInt(1_000_000_000_000_000_000)
	pointBase = uint256.NewInt(10000)
)

var (
	errStateNotConfigured   = errors.New("boost: state not configured")
	errWeightsNotConfigured = errors.New("boost: weight source not configured")

	// ErrAmountRange rejects amounts that do not fit boost arithmetic.
	ErrAmountRange = errors.New("boost: amount outside representable range")
	// ErrInvalidParams rejects nonsensical boost configurations.
	ErrInvalidParams = errors.New("boost: invalid parameters")
)

// engineState caches computed weight shares so that repeated claims within
// one epoch skip the ratio computation. Cached values are a pure cost
// optimization: they must equal what the view path computes.
type engineState interface {
	BoostPct(account [20]byte, e uint64) (*uint256.Int, bool, error)
	PutBoostPct(account [20]byte, e uint64, pct *uint256.Int) error
}

// weightSource exposes the locker's weight projections. The write variants
// persist materialized history so that prior-epoch reads become stored
// lookups.
type weightSource interface {
	AccountWeightAt(account [20]byte, at uint64) (uint64, error)
	TotalWeightAt(at uint64) (uint64, error)
	AccountWeightWrite(account [20]byte) (uint64, error)
	TotalWeightWrite() (uint64, error)
}

// Params fixes the boost curve.
type Params struct {
	// GraceEpochs is the window after deployment during which every claim
	// passes through unscaled; no prior-epoch weight exists yet.
	GraceEpochs uint64
	// MaxBoostMult is the ratio between a fully boosted and an unboosted
	// claim. Claims past the decay range pay out amount/MaxBoostMult.
	MaxBoostMult uint64
	// MaxBoostablePct scales the fully boosted range, in points.
	MaxBoostablePct uint64
	// DecayBoostPct scales the linear decay range, in points.
	DecayBoostPct uint64
}

// Validate rejects configurations the curve cannot express.
func (p Params) Validate() error {
	if p.MaxBoostMult == 0 {
		return fmt.Errorf("%w: max boost multiplier must be positive", ErrInvalidParams)
	}
	if p.MaxBoostablePct > 10000 || p.DecayBoostPct > 10000 {
		return fmt.Errorf("%w: pct beyond 10000 points", ErrInvalidParams)
	}
	return nil
}

// Calculator turns claim amounts into boost-adjusted payouts based on the
// claimant's share of total lock weight in the prior epoch.
type Calculator struct {
	state   engineState
	weights weightSource
	nowFn   func() time.Time
	clock   *epoch.Clock
	params  Params
}

// NewCalculator constructs a boost calculator bound to an epoch clock.
func NewCalculator(clock *epoch.Clock, params Params) (*Calculator, error) {
	if clock == nil {
		return nil, errors.New("boost: clock not configured")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		nowFn:  func() time.Time { return time.Now().UTC() },
		clock:  clock,
		params: params,
	}, nil
}

// SetState wires the calculator to the share cache backend.
func (c *Calculator) SetState(state engineState) { c.state = state }

// SetWeightSource wires the calculator to the locker weight views.
func (c *Calculator) SetWeightSource(weights weightSource) { c.weights = weights }

// SetNowFunc overrides the time source used to resolve the current epoch.
// Nil restores the default UTC clock.
func (c *Calculator) SetNowFunc(now func() time.Time) {
	if now == nil {
		c.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	c.nowFn = now
}

func (c *Calculator) now() time.Time {
	if c == nil || c.nowFn == nil {
		return time.Now().UTC()
	}
	return c.nowFn()
}

// inGrace reports whether claims at epoch e bypass boost accounting. Epoch
// zero is always in grace since it has no prior epoch to read weights from.
func (c *Calculator) inGrace(e uint64) bool {
	return e == 0 || e < c.params.GraceEpochs
}

// BoostedAmount computes the payout for claiming amount on top of previous
// already claimed this epoch, without touching state.
func (c *Calculator) BoostedAmount(account [20]byte, amount, previous, totalEpochEmissions *big.Int) (*big.Int, error) {
	if c.weights == nil {
		return nil, errWeightsNotConfigured
	}
	claim, prior, emissions, err := convertAmounts(amount, previous, totalEpochEmissions)
	if err != nil {
		return nil, err
	}
	e := c.clock.At(c.now())
	if c.inGrace(e) {
		return claim.ToBig(), nil
	}
	pct, err := c.viewPct(account, e)
	if err != nil {
		return nil, err
	}
	return c.adjusted(claim, prior, emissions, pct).ToBig(), nil
}

// BoostedAmountWrite computes the payout like BoostedAmount but persists the
// claimant's weight share for the epoch, so later claims in the same epoch
// reuse it. The vault uses this variant on real claims.
func (c *Calculator) BoostedAmountWrite(account [20]byte, amount, previous, totalEpochEmissions *big.Int) (*big.Int, error) {
	if c.state == nil {
		return nil, errStateNotConfigured
	}
	if c.weights == nil {
		return nil, errWeightsNotConfigured
	}
	claim, prior, emissions, err := convertAmounts(amount, previous, totalEpochEmissions)
	if err != nil {
		return nil, err
	}
	e := c.clock.At(c.now())
	if c.inGrace(e) {
		return claim.ToBig(), nil
	}
	pct, cached, err := c.state.BoostPct(account, e)
	if err != nil {
		return nil, err
	}
	if !cached {
		if _, err := c.weights.AccountWeightWrite(account); err != nil {
			return nil, err
		}
		if _, err := c.weights.TotalWeightWrite(); err != nil {
			return nil, err
		}
		pct, err = c.viewPct(account, e)
		if err != nil {
			return nil, err
		}
		if err := c.state.PutBoostPct(account, e, pct); err != nil {
			return nil, err
		}
	}
	return c.adjusted(claim, prior, emissions, pct).ToBig(), nil
}

// viewPct returns the claimant's 1e18-scaled share of total lock weight in
// the epoch before e. A zero total yields a zero share.
func (c *Calculator) viewPct(account [20]byte, e uint64) (*uint256.Int, error) {
	prior := e - 1
	total, err := c.weights.TotalWeightAt(prior)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return new(uint256.Int), nil
	}
	weight, err := c.weights.AccountWeightAt(account, prior)
	if err != nil {
		return nil, err
	}
	pct := new(uint256.Int).SetUint64(weight)
	pct.Mul(pct, pctScale)
	return pct.Div(pct, new(uint256.Int).SetUint64(total)), nil
}

// adjusted integrates the boost factor across the claimed span. The factor is
// 1 while cumulative claims stay within the fully boosted range, falls
// linearly to 1/MaxBoostMult across the decay range, and stays there beyond
// it. A zero share skips straight to the floor: it marks an account with no
// prior-epoch weight, not an empty claim.
func (c *Calculator) adjusted(claim, prior, emissions, pct *uint256.Int) *uint256.Int {
	out := new(uint256.Int)
	if claim.IsZero() {
		return out
	}
	mult := uint256.NewInt(c.params.MaxBoostMult)
	if pct.IsZero() {
		return out.Div(claim, mult)
	}

	// Range bounds scale with the claimant's share of this epoch's emissions.
	share := new(uint256.Int).Mul(emissions, pct)
	boostable := new(uint256.Int).Mul(share, uint256.NewInt(c.params.MaxBoostablePct))
	boostable.Div(boostable, pctScale)
	boostable.Div(boostable, pointBase)
	decay := new(uint256.Int).Mul(share, uint256.NewInt(c.params.DecayBoostPct))
	decay.Div(decay, pctScale)
	decay.Div(decay, pointBase)
	fullDecay := new(uint256.Int).Add(boostable, decay)

	start := prior
	end := new(uint256.Int).Add(prior, claim)

	// Fully boosted segment.
	if start.Lt(boostable) {
		segEnd := end
		if boostable.Lt(end) {
			segEnd = boostable
		}
		out.Add(out, new(uint256.Int).Sub(segEnd, start))
	}
	// Linear decay segment: integrate the trapezoid
	// span - (mult-1)*(u+v)*span / (2*mult*decay) for offsets u,v into the range.
	if !decay.IsZero() && boostable.Lt(end) && start.Lt(fullDecay) {
		s := start
		if s.Lt(boostable) {
			s = boostable
		}
		t := end
		if fullDecay.Lt(end) {
			t = fullDecay
		}
		u := new(uint256.Int).Sub(s, boostable)
		v := new(uint256.Int).Sub(t, boostable)
		span := new(uint256.Int).Sub(v, u)
		num := new(uint256.Int).Add(u, v)
		num.Mul(num, span)
		num.Mul(num, new(uint256.Int).Sub(mult, uint256.NewInt(1)))
		den := new(uint256.Int).Mul(uint256.NewInt(2), mult)
		den.Mul(den, decay)
		out.Add(out, span)
		out.Sub(out, num.Div(num, den))
	}
	// Depleted segment: flat floor payout.
	if fullDecay.Lt(end) {
		s := start
		if s.Lt(fullDecay) {
			s = fullDecay
		}
		tail := new(uint256.Int).Sub(end, s)
		out.Add(out, tail.Div(tail, mult))
	}
	return out
}

func convertAmounts(amount, previous, totalEpochEmissions *big.Int) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	claim, err := toUint256(amount)
	if err != nil {
		return nil, nil, nil, err
	}
	prior, err := toUint256(previous)
	if err != nil {
		return nil, nil, nil, err
	}
	emissions, err := toUint256(totalEpochEmissions)
	if err != nil {
		return nil, nil, nil, err
	}
	return claim, prior, emissions, nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrAmountRange)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountRange, v)
	}
	return out, nil
}
