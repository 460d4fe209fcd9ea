package state

var (
	genesisKeyBytes         = []byte("epoch/genesis")
	lockerAccountKeyFormat  = "locker/account/%x"
	lockerTotalsKeyBytes    = []byte("locker/totals")
	lockerPenaltyKeyBytes   = []byte("locker/penalty-exits")
	votingAccountKeyFormat  = "voting/account/%x"
	votingReceiversKeyBytes = []byte("voting/receivers")
	votingReceiverKeyFormat = "voting/receiver/%d"
	votingLedgerKeyFormat   = "voting/ledger/%d"
	votingTotalsKeyBytes    = []byte("voting/totals")
	boostPctKeyFormat       = "boost/pct/%x/%d"
	vaultKeyBytes           = []byte("emissions/vault")
	epochEmissionsKeyFormat = "emissions/epoch/%d"
	receiverAllocKeyFormat  = "emissions/receiver/%d"
	epochAllocatedKeyFormat = "emissions/allocated/%d/%d"
	accountClaimedKeyFormat = "emissions/claimed/%x/%d"
	delegationKeyFormat     = "emissions/delegation/%x"
	allowanceKeyFormat      = "emissions/allowance/%x"
	tokenBalanceKeyFormat   = "token/balance/%x"
	tokenSupplyKeyBytes     = []byte("token/supply")
	pauseKeyFormat          = "pause/%s"
)
