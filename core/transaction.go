package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxGenesis          TxType = "genesis"
	TxCreateMission    TxType = "create_mission"
	TxFulfillMission   TxType = "fulfill_mission"
	TxSubmitScore      TxType = "submit_score"
	TxSetTrustedSigner TxType = "set_trusted_signer"
	TxCreateLevel      TxType = "create_level"
	TxSetMintPrice     TxType = "set_mint_price"
	TxMintAnimal       TxType = "mint_animal"
	TxCareAnimal       TxType = "care_animal"
	TxTransferAnimal   TxType = "transfer_animal"
	TxDeposit          TxType = "deposit"
	TxWithdraw         TxType = "withdraw"
	TxSettlePayout     TxType = "settle_payout"
	TxPlayLevel        TxType = "play_level"
)

// Transaction is one caller-initiated operation. The caller identity is
// established by the transport before the transaction is built; Value is the
// native amount the caller attaches. Payable handlers move it from the
// caller's balance into escrow once their own checks pass.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	From      common.Address  `json:"from"`
	Value     uint64          `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewTransaction creates a transaction with a fresh ID and the current timestamp.
func NewTransaction(typ TxType, from common.Address, value uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ID:        "tx_" + uuid.NewString(),
		Type:      typ,
		From:      from,
		Value:     value,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID      string `json:"tx_id"`
	Height    uint64 `json:"height"`
	StateRoot string `json:"state_root"`
	Result    any    `json:"result,omitempty"`
}

// ---- Payload types ----

// CreateMissionPayload opens a new rescue mission.
type CreateMissionPayload struct {
	AnimalName string `json:"animal_name"`
	Species    string `json:"species"`
	Location   string `json:"location"`
	ImageRef   string `json:"image_ref"`
	Fee        uint64 `json:"fee"`
	Duration   int64  `json:"duration"` // seconds
}

// FulfillMissionPayload claims an open mission. The payment is the
// transaction Value.
type FulfillMissionPayload struct {
	MissionID uint64 `json:"mission_id"`
}

// SubmitScorePayload carries a server-attested score. The player is the
// transaction sender.
type SubmitScorePayload struct {
	LevelID   uint64        `json:"level_id"`
	AnimalID  uint64        `json:"animal_id"`
	Score     uint64        `json:"score"`
	Nonce     uint64        `json:"nonce"`
	Signature hexutil.Bytes `json:"signature"`
}

// SetTrustedSignerPayload rotates the score-attesting key.
type SetTrustedSignerPayload struct {
	Signer common.Address `json:"signer"`
}

// CreateLevelPayload registers a playable level.
type CreateLevelPayload struct {
	Name             string `json:"name"`
	Difficulty       uint64 `json:"difficulty"`
	TokenReward      uint64 `json:"token_reward"`
	ExperienceReward uint64 `json:"experience_reward"`
}

// SetMintPricePayload changes the direct mint price.
type SetMintPricePayload struct {
	Price uint64 `json:"price"`
}

// MintAnimalPayload buys a fresh animal at the mint price. The payment is
// the transaction Value.
type MintAnimalPayload struct {
	Name     string `json:"name"`
	Species  string `json:"species"`
	ImageRef string `json:"image_ref"`
}

// CareAnimalPayload grants care experience to an owned animal.
type CareAnimalPayload struct {
	AnimalID uint64 `json:"animal_id"`
}

// TransferAnimalPayload hands an owned animal to another account.
type TransferAnimalPayload struct {
	AnimalID uint64         `json:"animal_id"`
	To       common.Address `json:"to"`
}

// DepositPayload credits native currency received off-ledger.
type DepositPayload struct {
	To     common.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

// WithdrawPayload debits native currency for an off-ledger payout.
type WithdrawPayload struct {
	Amount uint64 `json:"amount"`
}

// SettlePayoutPayload marks a recorded payout as sent off-ledger.
type SettlePayoutPayload struct {
	PayoutID uint64 `json:"payout_id"`
}

// PlayLevelPayload pays the entry fee to start level with animal.
type PlayLevelPayload struct {
	LevelID  uint64 `json:"level_id"`
	AnimalID uint64 `json:"animal_id"`
}

// ---- Results ----

// FulfillResult is the Receipt.Result of a fulfill_mission transaction.
type FulfillResult struct {
	MissionID uint64 `json:"mission_id"`
	AnimalID  uint64 `json:"animal_id"`
	Refund    uint64 `json:"refund"`
}

// ScoreResult is the Receipt.Result of a submit_score transaction.
type ScoreResult struct {
	Reward       uint64      `json:"reward"`
	NextNonce    uint64      `json:"next_nonce"`
	LevelsGained uint64      `json:"levels_gained"`
	Stats        PlayerStats `json:"stats"`
}

// MintResult is the Receipt.Result of a mint_animal transaction.
type MintResult struct {
	AnimalID uint64 `json:"animal_id"`
	Refund   uint64 `json:"refund"`
}

// WithdrawResult is the Receipt.Result of a withdraw transaction.
type WithdrawResult struct {
	Account *Account `json:"account"`
	Payout  *Payout  `json:"payout"`
}
