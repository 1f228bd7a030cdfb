// Package game is the typed entry point to the rescue ledger. Each mutating
// method builds a transaction for the caller and runs it through the ledger;
// each query reads committed state under the ledger's read lock.
package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/indexer"
	"github.com/tolelom/rescuechain/vm"

	// Handler modules self-register with the ledger.
	_ "github.com/tolelom/rescuechain/vm/modules/admin"
	_ "github.com/tolelom/rescuechain/vm/modules/animal"
	_ "github.com/tolelom/rescuechain/vm/modules/economy"
	_ "github.com/tolelom/rescuechain/vm/modules/mission"
	_ "github.com/tolelom/rescuechain/vm/modules/play"
	_ "github.com/tolelom/rescuechain/vm/modules/score"
)

// Service exposes the game operations.
type Service struct {
	ledger  *vm.Ledger
	indexer *indexer.Indexer
	log     log.Logger
}

// New creates a Service over ledger and idx.
func New(ledger *vm.Ledger, idx *indexer.Indexer) *Service {
	return &Service{ledger: ledger, indexer: idx, log: log.New("module", "game")}
}

// Ledger returns the underlying ledger.
func (s *Service) Ledger() *vm.Ledger { return s.ledger }

// MissionRequest describes a new mission.
type MissionRequest struct {
	AnimalName string        `json:"animal_name"`
	Species    string        `json:"species"`
	Location   string        `json:"location"`
	ImageRef   string        `json:"image_ref"`
	Fee        uint64        `json:"fee"`
	Duration   time.Duration `json:"duration"`
}

// ScoreSubmission is a player's attested level result.
type ScoreSubmission struct {
	LevelID   uint64        `json:"level_id"`
	AnimalID  uint64        `json:"animal_id"`
	Score     uint64        `json:"score"`
	Nonce     uint64        `json:"nonce"`
	Signature hexutil.Bytes `json:"signature"`
}

func (s *Service) execute(typ core.TxType, caller common.Address, value uint64, payload any) (*core.Receipt, error) {
	tx, err := core.NewTransaction(typ, caller, value, payload)
	if err != nil {
		return nil, err
	}
	return s.ledger.Execute(tx)
}

// ---- missions ----

// CreateMission opens a mission. Only the controller may call it.
func (s *Service) CreateMission(caller common.Address, req MissionRequest) (*core.Mission, error) {
	secs := int64(req.Duration / time.Second)
	if req.Duration > 0 && secs == 0 {
		secs = 1
	}
	r, err := s.execute(core.TxCreateMission, caller, 0, core.CreateMissionPayload{
		AnimalName: req.AnimalName,
		Species:    req.Species,
		Location:   req.Location,
		ImageRef:   req.ImageRef,
		Fee:        req.Fee,
		Duration:   secs,
	})
	if err != nil {
		return nil, err
	}
	m := r.Result.(*core.Mission)
	s.log.Info("Mission created", "id", m.ID, "animal", m.AnimalName, "fee", m.Fee, "expires", m.ExpiresAt)
	return m, nil
}

// FulfillMission pays for mission id with paid from the caller's balance.
// The fee goes to the treasury, the rest is refunded, and the caller
// receives the mission's animal.
func (s *Service) FulfillMission(caller common.Address, id, paid uint64) (*core.FulfillResult, error) {
	r, err := s.execute(core.TxFulfillMission, caller, paid, core.FulfillMissionPayload{MissionID: id})
	if err != nil {
		return nil, err
	}
	res := r.Result.(core.FulfillResult)
	s.log.Info("Mission fulfilled", "id", id, "rescuer", caller, "animal", res.AnimalID, "refund", res.Refund, "height", r.Height)
	return &res, nil
}

// GetMission returns mission id.
func (s *Service) GetMission(id uint64) (*core.Mission, error) {
	var m *core.Mission
	err := s.ledger.View(func(st core.State) error {
		var err error
		m, err = st.GetMission(id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mission %d: %w", id, err)
	}
	return m, nil
}

// ListActiveMissions returns open, unexpired missions in creation order.
func (s *Service) ListActiveMissions() ([]*core.Mission, error) {
	now := s.ledger.Now()
	var out []*core.Mission
	err := s.ledger.View(func(st core.State) error {
		n, err := st.PeekSequence(core.SeqMission)
		if err != nil {
			return err
		}
		for id := uint64(0); id < n; id++ {
			m, err := st.GetMission(id)
			if err != nil {
				return fmt.Errorf("mission %d: %w", id, err)
			}
			if m.Active(now) {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

// MissionsRescuedBy returns the missions caller has fulfilled.
func (s *Service) MissionsRescuedBy(rescuer common.Address) ([]*core.Mission, error) {
	var out []*core.Mission
	err := s.ledger.View(func(st core.State) error {
		ids, err := s.indexer.MissionsByRescuer(rescuer)
		if err != nil {
			return err
		}
		for _, id := range ids {
			m, err := st.GetMission(id)
			if err != nil {
				return fmt.Errorf("mission %d: %w", id, err)
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// ---- scores ----

// PlayLevel pays the entry fee for level with animal and opens the play that
// the next score for them closes.
func (s *Service) PlayLevel(caller common.Address, levelID, animalID uint64) (*core.Play, error) {
	r, err := s.execute(core.TxPlayLevel, caller, 0, core.PlayLevelPayload{LevelID: levelID, AnimalID: animalID})
	if err != nil {
		return nil, err
	}
	p := r.Result.(*core.Play)
	s.log.Debug("Level started", "player", caller, "level", levelID, "animal", animalID, "fee", p.Fee)
	return p, nil
}

// OpenPlay returns the open play of player, or ErrNotFound.
func (s *Service) OpenPlay(player common.Address) (*core.Play, error) {
	var p *core.Play
	err := s.ledger.View(func(st core.State) error {
		var err error
		p, err = st.GetPlay(player)
		return err
	})
	return p, err
}

// SubmitScore applies an attested score for caller.
func (s *Service) SubmitScore(caller common.Address, sub ScoreSubmission) (*core.ScoreResult, error) {
	r, err := s.execute(core.TxSubmitScore, caller, 0, core.SubmitScorePayload{
		LevelID:   sub.LevelID,
		AnimalID:  sub.AnimalID,
		Score:     sub.Score,
		Nonce:     sub.Nonce,
		Signature: sub.Signature,
	})
	if err != nil {
		return nil, err
	}
	res := r.Result.(core.ScoreResult)
	s.log.Info("Score accepted", "player", caller, "level", sub.LevelID, "score", sub.Score, "reward", res.Reward, "nonce", sub.Nonce)
	return &res, nil
}

// GetPlayerStats returns the aggregate stats of player. Unknown players have
// zero stats.
func (s *Service) GetPlayerStats(player common.Address) (*core.PlayerStats, error) {
	var stats *core.PlayerStats
	err := s.ledger.View(func(st core.State) error {
		var err error
		stats, err = st.GetStats(player)
		return err
	})
	return stats, err
}

// GetAccount returns balances and the next expected score nonce of addr.
func (s *Service) GetAccount(addr common.Address) (*core.Account, error) {
	var acc *core.Account
	err := s.ledger.View(func(st core.State) error {
		var err error
		acc, err = st.GetAccount(addr)
		return err
	})
	return acc, err
}

// ---- animals ----

// GetUserAssets returns the animals owned by owner in acquisition order.
func (s *Service) GetUserAssets(owner common.Address) ([]*core.Animal, error) {
	var out []*core.Animal
	err := s.ledger.View(func(st core.State) error {
		ids, err := s.indexer.AnimalsByOwner(owner)
		if err != nil {
			return err
		}
		for _, id := range ids {
			a, err := st.GetAnimal(id)
			if err != nil {
				return fmt.Errorf("animal %d: %w", id, err)
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// GetAnimal returns animal id.
func (s *Service) GetAnimal(id uint64) (*core.Animal, error) {
	var a *core.Animal
	err := s.ledger.View(func(st core.State) error {
		var err error
		a, err = st.GetAnimal(id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("animal %d: %w", id, err)
	}
	return a, nil
}

// MintAnimal buys a new animal at the mint price, paying from caller's
// balance. Excess payment is refunded.
func (s *Service) MintAnimal(caller common.Address, name, species, imageRef string, paid uint64) (*core.MintResult, error) {
	r, err := s.execute(core.TxMintAnimal, caller, paid, core.MintAnimalPayload{
		Name:     name,
		Species:  species,
		ImageRef: imageRef,
	})
	if err != nil {
		return nil, err
	}
	res := r.Result.(core.MintResult)
	s.log.Info("Animal minted", "owner", caller, "animal", res.AnimalID, "name", name)
	return &res, nil
}

// CareForAnimal grants care experience to an animal caller owns.
func (s *Service) CareForAnimal(caller common.Address, id uint64) (*core.Animal, error) {
	r, err := s.execute(core.TxCareAnimal, caller, 0, core.CareAnimalPayload{AnimalID: id})
	if err != nil {
		return nil, err
	}
	return r.Result.(*core.Animal), nil
}

// TransferAnimal moves an animal caller owns to to.
func (s *Service) TransferAnimal(caller common.Address, id uint64, to common.Address) (*core.Animal, error) {
	r, err := s.execute(core.TxTransferAnimal, caller, 0, core.TransferAnimalPayload{AnimalID: id, To: to})
	if err != nil {
		return nil, err
	}
	s.log.Info("Animal transferred", "animal", id, "from", caller, "to", to)
	return r.Result.(*core.Animal), nil
}

// ---- administration ----

// Authority returns the current controller, trusted signer and treasury.
func (s *Service) Authority() (*core.Authority, error) {
	var a *core.Authority
	err := s.ledger.View(func(st core.State) error {
		var err error
		a, err = st.GetAuthority()
		return err
	})
	return a, err
}

// Params returns the current game constants.
func (s *Service) Params() (*core.Params, error) {
	var p *core.Params
	err := s.ledger.View(func(st core.State) error {
		var err error
		p, err = st.GetParams()
		return err
	})
	return p, err
}

// SetTrustedSigner rotates the score-attesting key. Only the controller may
// call it; scores signed by the previous key are rejected from then on.
func (s *Service) SetTrustedSigner(caller, signer common.Address) error {
	if _, err := s.execute(core.TxSetTrustedSigner, caller, 0, core.SetTrustedSignerPayload{Signer: signer}); err != nil {
		return err
	}
	s.log.Info("Trusted signer changed", "signer", signer)
	return nil
}

// CreateLevel registers a level. Only the controller may call it.
func (s *Service) CreateLevel(caller common.Address, name string, difficulty, tokenReward, experienceReward uint64) (*core.Level, error) {
	r, err := s.execute(core.TxCreateLevel, caller, 0, core.CreateLevelPayload{
		Name:             name,
		Difficulty:       difficulty,
		TokenReward:      tokenReward,
		ExperienceReward: experienceReward,
	})
	if err != nil {
		return nil, err
	}
	l := r.Result.(*core.Level)
	s.log.Info("Level created", "id", l.ID, "name", l.Name, "difficulty", l.Difficulty)
	return l, nil
}

// GetLevel returns level id.
func (s *Service) GetLevel(id uint64) (*core.Level, error) {
	var l *core.Level
	err := s.ledger.View(func(st core.State) error {
		var err error
		l, err = st.GetLevel(id)
		return err
	})
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownLevel, id)
	}
	return l, err
}

// SetMintPrice changes the direct mint price. Only the controller may call it.
func (s *Service) SetMintPrice(caller common.Address, price uint64) error {
	_, err := s.execute(core.TxSetMintPrice, caller, 0, core.SetMintPricePayload{Price: price})
	return err
}

// ---- balances ----

// Deposit credits amount to to after an off-ledger payment. Only the
// controller may call it.
func (s *Service) Deposit(caller, to common.Address, amount uint64) error {
	_, err := s.execute(core.TxDeposit, caller, 0, core.DepositPayload{To: to, Amount: amount})
	return err
}

// Withdraw debits amount from caller and records a pending payout.
func (s *Service) Withdraw(caller common.Address, amount uint64) (*core.WithdrawResult, error) {
	r, err := s.execute(core.TxWithdraw, caller, 0, core.WithdrawPayload{Amount: amount})
	if err != nil {
		return nil, err
	}
	res := r.Result.(core.WithdrawResult)
	s.log.Info("Withdrawal", "account", caller, "amount", amount, "payout", res.Payout.ID)
	return &res, nil
}

// SettlePayout marks payout id as sent. Only the controller may call it.
func (s *Service) SettlePayout(caller common.Address, id uint64) (*core.Payout, error) {
	r, err := s.execute(core.TxSettlePayout, caller, 0, core.SettlePayoutPayload{PayoutID: id})
	if err != nil {
		return nil, err
	}
	po := r.Result.(*core.Payout)
	s.log.Info("Payout settled", "payout", id, "account", po.Account, "amount", po.Amount)
	return po, nil
}

// GetPayout returns payout id.
func (s *Service) GetPayout(id uint64) (*core.Payout, error) {
	var po *core.Payout
	err := s.ledger.View(func(st core.State) error {
		var err error
		po, err = st.GetPayout(id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("payout %d: %w", id, err)
	}
	return po, nil
}

// PendingPayouts returns the unsettled payouts in request order.
func (s *Service) PendingPayouts() ([]*core.Payout, error) {
	var out []*core.Payout
	err := s.ledger.View(func(st core.State) error {
		n, err := st.PeekSequence(core.SeqPayout)
		if err != nil {
			return err
		}
		for id := uint64(0); id < n; id++ {
			po, err := st.GetPayout(id)
			if err != nil {
				return fmt.Errorf("payout %d: %w", id, err)
			}
			if !po.Settled {
				out = append(out, po)
			}
		}
		return nil
	})
	return out, err
}

// ---- journal ----

// JournalHeight returns the height of the newest journal entry.
func (s *Service) JournalHeight() uint64 {
	return s.ledger.Journal().Height()
}

// GetEntry returns the journal entry at height.
func (s *Service) GetEntry(height uint64) (*core.Entry, error) {
	e, err := s.ledger.Journal().GetEntry(height)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", height, err)
	}
	return e, nil
}
