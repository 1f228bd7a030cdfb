package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account holds a participant's balances and score nonce.
type Account struct {
	Address common.Address `json:"address"`
	Balance uint64         `json:"balance"` // native currency, minor units
	Tokens  uint64         `json:"tokens"`  // game reward tokens
	Nonce   uint64         `json:"nonce"`   // next expected score nonce
}

// Authority names the privileged roles. It lives in state and is handed to
// every handler through its execution context.
type Authority struct {
	Controller    common.Address `json:"controller"`
	TrustedSigner common.Address `json:"trusted_signer"`
	Treasury      common.Address `json:"treasury"`
}

// Params are the tunable game constants.
type Params struct {
	MintPrice          uint64 `json:"mint_price"`
	CareExperience     uint64 `json:"care_experience"`
	ExperiencePerLevel uint64 `json:"experience_per_level"`
	PowerPerLevel      uint64 `json:"power_per_level"`
	ScorePerToken      uint64 `json:"score_per_token"`
	BasePower          uint64 `json:"base_power"`
	BaseSpeed          uint64 `json:"base_speed"`
	EntryFee           uint64 `json:"entry_fee"`           // game tokens charged by play_level
	MaxRescuesPerDay   uint64 `json:"max_rescues_per_day"` // 0 disables the cap
}

// DefaultParams returns the stock game constants.
func DefaultParams() Params {
	return Params{
		MintPrice:          1_000_000,
		CareExperience:     10,
		ExperiencePerLevel: 100,
		PowerPerLevel:      5,
		ScorePerToken:      100,
		BasePower:          10,
		BaseSpeed:          10,
		EntryFee:           10,
		MaxRescuesPerDay:   5,
	}
}

// MissionState is the lifecycle position of a mission.
type MissionState string

const (
	MissionOpen      MissionState = "open"
	MissionCompleted MissionState = "completed"
)

// Mission is a payable one-shot rescue offer.
type Mission struct {
	ID         uint64          `json:"id"`
	AnimalName string          `json:"animal_name"`
	Species    string          `json:"species"`
	Location   string          `json:"location"`
	ImageRef   string          `json:"image_ref"`
	Fee        uint64          `json:"fee"`
	CreatedAt  int64           `json:"created_at"` // unix seconds
	ExpiresAt  int64           `json:"expires_at"` // unix seconds
	State      MissionState    `json:"state"`
	Rescuer    *common.Address `json:"rescuer,omitempty"`
	AnimalID   *uint64         `json:"animal_id,omitempty"`
}

// Active reports whether the mission can still be fulfilled at now.
func (m *Mission) Active(now time.Time) bool {
	return m.State == MissionOpen && now.Unix() < m.ExpiresAt
}

// Animal is a unique reward asset.
type Animal struct {
	ID              uint64         `json:"id"`
	Name            string         `json:"name"`
	Species         string         `json:"species"`
	ImageRef        string         `json:"image_ref"`
	Owner           common.Address `json:"owner"`
	OriginMissionID *uint64        `json:"origin_mission_id,omitempty"`
	Experience      uint64         `json:"experience"`
	Level           uint64         `json:"level"`
	Power           uint64         `json:"power"`
	Speed           uint64         `json:"speed"`
	IssuedAt        int64          `json:"issued_at"`
}

// Level is a playable game level that scores are submitted against.
type Level struct {
	ID               uint64 `json:"id"`
	Name             string `json:"name"`
	Difficulty       uint64 `json:"difficulty"`
	TokenReward      uint64 `json:"token_reward"`
	ExperienceReward uint64 `json:"experience_reward"`
}

// PlayerStats aggregates a player's accepted scores.
type PlayerStats struct {
	LevelsCompleted uint64 `json:"levels_completed"`
	TotalScore      uint64 `json:"total_score"`
	HighScore       uint64 `json:"high_score"`
	TokensEarned    uint64 `json:"tokens_earned"`
	TotalRescues    uint64 `json:"total_rescues"`
}

// Play is a player's open level run. play_level opens it and the next
// accepted score for the same level and animal closes it.
type Play struct {
	Player    common.Address `json:"player"`
	LevelID   uint64         `json:"level_id"`
	AnimalID  uint64         `json:"animal_id"`
	Fee       uint64         `json:"fee"`
	StartedAt int64          `json:"started_at"`
}

// Payout is a withdrawal awaiting off-ledger settlement. The ledger debits
// the balance when the payout is recorded; the controller marks it settled
// once the funds have been sent.
type Payout struct {
	ID          uint64         `json:"id"`
	Account     common.Address `json:"account"`
	Amount      uint64         `json:"amount"`
	RequestedAt int64          `json:"requested_at"`
	Settled     bool           `json:"settled"`
	SettledAt   int64          `json:"settled_at,omitempty"`
}

// Day returns the UTC day number of t, used to bucket daily limits.
func Day(t time.Time) int64 {
	return t.Unix() / 86400
}

// Sequence names for monotonically assigned identifiers.
const (
	SeqMission = "mission"
	SeqAnimal  = "animal"
	SeqLevel   = "level"
	SeqPayout  = "payout"
)

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed operations.
type State interface {
	// Accounts
	GetAccount(addr common.Address) (*Account, error)
	SetAccount(acc *Account) error

	// Authority and params
	GetAuthority() (*Authority, error)
	SetAuthority(a *Authority) error
	GetParams() (*Params, error)
	SetParams(p *Params) error

	// Missions
	GetMission(id uint64) (*Mission, error)
	SetMission(m *Mission) error

	// Animals
	GetAnimal(id uint64) (*Animal, error)
	SetAnimal(a *Animal) error

	// Levels
	GetLevel(id uint64) (*Level, error)
	SetLevel(l *Level) error

	// Player stats (zero value for unknown players)
	GetStats(addr common.Address) (*PlayerStats, error)
	SetStats(addr common.Address, s *PlayerStats) error

	// Daily rescue counts, keyed by player and Day (zero when unset)
	GetDailyRescues(addr common.Address, day int64) (uint64, error)
	SetDailyRescues(addr common.Address, day int64, n uint64) error

	// Open plays, one per player
	GetPlay(addr common.Address) (*Play, error)
	SetPlay(p *Play) error
	DeletePlay(addr common.Address) error

	// Payouts
	GetPayout(id uint64) (*Payout, error)
	SetPayout(p *Payout) error

	// Sequences. NextSequence returns the current value and advances it;
	// PeekSequence returns it without advancing.
	NextSequence(name string) (uint64, error)
	PeekSequence(name string) (uint64, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
