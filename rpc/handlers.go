package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vetoken/core"
	"vetoken/crypto"
)

// statusResult summarizes the protocol for API consumers.
type statusResult struct {
	Epoch              uint64    `json:"epoch"`
	EpochStart         time.Time `json:"epochStart"`
	EpochEnd           time.Time `json:"epochEnd"`
	GenesisStart       time.Time `json:"genesisStart"`
	TotalLockWeight    uint64    `json:"totalLockWeight"`
	TotalVoteWeight    uint64    `json:"totalVoteWeight"`
	ReceiverCount      uint64    `json:"receiverCount"`
	TokenSupply        string    `json:"tokenSupply"`
	VaultBalance       string    `json:"vaultBalance"`
	LockerBalance      string    `json:"lockerBalance"`
	Unallocated        string    `json:"unallocated"`
	PenaltyWithdrawals bool      `json:"penaltyWithdrawals"`
}

type activeLockResult struct {
	Amount         uint64 `json:"amount"`
	EpochsToUnlock uint64 `json:"epochsToUnlock"`
}

type registeredLockResult struct {
	Amount      uint64 `json:"amount"`
	UnlockEpoch uint64 `json:"unlockEpoch"`
}

type voteResult struct {
	ReceiverID uint64 `json:"receiverId"`
	Points     uint64 `json:"points"`
}

type voteStateResult struct {
	Frozen uint64                 `json:"frozen"`
	Locks  []registeredLockResult `json:"locks"`
	Votes  []voteResult           `json:"votes"`
}

type delegationResult struct {
	Enabled  bool   `json:"enabled"`
	FeePct   uint64 `json:"feePct"`
	Callback bool   `json:"callback"`
}

// accountResult is the full account view: token balance, lock balances,
// projected weight at the current epoch and the registered voting record.
type accountResult struct {
	Address      string             `json:"address"`
	TokenBalance string             `json:"tokenBalance"`
	Locked       uint64             `json:"locked"`
	Unlocked     uint64             `json:"unlocked"`
	Frozen       uint64             `json:"frozen"`
	Weight       uint64             `json:"weight"`
	ActiveLocks  []activeLockResult `json:"activeLocks"`
	VoteState    *voteStateResult   `json:"voteState,omitempty"`
	Delegation   *delegationResult  `json:"delegation,omitempty"`
	Allowance    string             `json:"allowance"`
}

// receiverResult is the per-receiver view. VotePct is the receiver's
// prior-epoch share of total vote weight scaled to 1e18, the basis for the
// share it would be allocated this epoch.
type receiverResult struct {
	ID        uint64 `json:"id"`
	Address   string `json:"address"`
	MaxPct    uint64 `json:"maxPct"`
	Weight    uint64 `json:"weight"`
	VotePct   string `json:"votePct"`
	Claimable string `json:"claimable"`
}

type epochResult struct {
	Epoch         uint64    `json:"epoch"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	LengthSeconds uint64    `json:"lengthSeconds"`
	SecondHalf    bool      `json:"secondHalf"`
	GenesisTime   time.Time `json:"genesisTime"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.node.Status()
	if err != nil {
		s.log.Error("status view failed", "request_id", requestIDFrom(r.Context()), "error", err)
		http.Error(w, "failed to load status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResult{
		Epoch:              status.Epoch,
		EpochStart:         status.EpochStart,
		EpochEnd:           status.EpochEnd,
		GenesisStart:       status.GenesisStart,
		TotalLockWeight:    status.TotalLockWeight,
		TotalVoteWeight:    status.TotalVoteWeight,
		ReceiverCount:      status.ReceiverCount,
		TokenSupply:        bigString(status.TokenSupply),
		VaultBalance:       bigString(status.VaultBalance),
		LockerBalance:      bigString(status.LockerBalance),
		Unallocated:        bigString(status.Unallocated),
		PenaltyWithdrawals: status.PenaltyWithdrawals,
	})
}

func (s *Server) handleCurrentEpoch(w http.ResponseWriter, r *http.Request) {
	info := s.node.EpochInfo()
	writeJSON(w, http.StatusOK, epochResult{
		Epoch:         info.Epoch,
		Start:         info.Start,
		End:           info.End,
		LengthSeconds: uint64(info.Length / time.Second),
		SecondHalf:    info.SecondHalf,
		GenesisTime:   info.GenesisTime,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		http.Error(w, "invalid account address", http.StatusBadRequest)
		return
	}
	info, err := s.node.AccountInfo(addr.Raw())
	if err != nil {
		s.log.Error("account view failed", "request_id", requestIDFrom(r.Context()), "address", addr.String(), "error", err)
		http.Error(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, accountResultFrom(info))
}

func accountResultFrom(info *core.AccountInfo) accountResult {
	out := accountResult{
		Address:      crypto.AddressFromRaw(info.Address).String(),
		TokenBalance: bigString(info.TokenBalance),
		Locked:       info.Locked,
		Unlocked:     info.Unlocked,
		Frozen:       info.Frozen,
		Weight:       info.Weight,
		ActiveLocks:  make([]activeLockResult, 0, len(info.ActiveLocks)),
		Allowance:    bigString(info.Allowance),
	}
	for _, lock := range info.ActiveLocks {
		out.ActiveLocks = append(out.ActiveLocks, activeLockResult{
			Amount:         lock.Amount,
			EpochsToUnlock: lock.EpochsToUnlock,
		})
	}
	if info.Votes.Registered() || len(info.Votes.Votes) > 0 {
		state := &voteStateResult{
			Frozen: info.Votes.Frozen,
			Locks:  make([]registeredLockResult, 0, len(info.Votes.Locks)),
			Votes:  make([]voteResult, 0, len(info.Votes.Votes)),
		}
		for _, lock := range info.Votes.Locks {
			state.Locks = append(state.Locks, registeredLockResult{Amount: lock.Amount, UnlockEpoch: lock.UnlockEpoch})
		}
		for _, vote := range info.Votes.Votes {
			state.Votes = append(state.Votes, voteResult{ReceiverID: vote.ReceiverID, Points: vote.Points})
		}
		out.VoteState = state
	}
	if info.Delegation != nil {
		out.Delegation = &delegationResult{
			Enabled:  info.Delegation.Enabled,
			FeePct:   info.Delegation.FeePct,
			Callback: info.Delegation.Callback,
		}
	}
	return out
}

func (s *Server) handleReceivers(w http.ResponseWriter, r *http.Request) {
	infos, err := s.node.Receivers()
	if err != nil {
		s.log.Error("receivers view failed", "request_id", requestIDFrom(r.Context()), "error", err)
		http.Error(w, "failed to load receivers", http.StatusInternalServerError)
		return
	}
	out := make([]receiverResult, 0, len(infos))
	for i := range infos {
		out = append(out, receiverResultFrom(&infos[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReceiver(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid receiver id", http.StatusBadRequest)
		return
	}
	info, ok, err := s.node.ReceiverInfo(id)
	if err != nil {
		s.log.Error("receiver view failed", "request_id", requestIDFrom(r.Context()), "receiver", id, "error", err)
		http.Error(w, "failed to load receiver", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "receiver not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, receiverResultFrom(info))
}

func receiverResultFrom(info *core.ReceiverInfo) receiverResult {
	out := receiverResult{
		ID:        info.ID,
		Address:   crypto.AddressFromRaw(info.Address).String(),
		MaxPct:    info.MaxPct,
		Weight:    info.Weight,
		VotePct:   "0",
		Claimable: bigString(info.Claimable),
	}
	if info.VotePct != nil {
		out.VotePct = info.VotePct.Dec()
	}
	return out
}
