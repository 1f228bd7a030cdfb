// Package animal manages the unique animal assets: issuance, direct minting,
// care and transfer, plus the experience and level-up rules shared with
// score submission.
package animal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/vm"
)

func init() {
	vm.Register(core.TxMintAnimal, handleMintAnimal)
	vm.Register(core.TxCareAnimal, handleCareAnimal)
	vm.Register(core.TxTransferAnimal, handleTransferAnimal)
}

// Issue creates a new level-1 animal owned by owner under the next animal id
// and queues an asset_issued event.
func Issue(ctx *vm.Context, owner common.Address, name, species, imageRef string, origin *uint64) (*core.Animal, error) {
	id, err := ctx.State.NextSequence(core.SeqAnimal)
	if err != nil {
		return nil, err
	}
	a := &core.Animal{
		ID:              id,
		Name:            name,
		Species:         species,
		ImageRef:        imageRef,
		Owner:           owner,
		OriginMissionID: origin,
		Level:           1,
		Power:           ctx.Params.BasePower,
		Speed:           ctx.Params.BaseSpeed,
		IssuedAt:        ctx.Now.Unix(),
	}
	if err := ctx.State.SetAnimal(a); err != nil {
		return nil, err
	}
	data := map[string]any{
		"animal_id": id,
		"owner":     owner.Hex(),
		"name":      name,
		"species":   species,
	}
	if origin != nil {
		data["mission_id"] = *origin
	}
	ctx.Emit(events.EventAssetIssued, data)
	return a, nil
}

// RecordRescue counts a rescue for player against today's limit and their
// lifetime total. It fails with ErrRescueLimitReached once the player has
// made MaxRescuesPerDay rescues on the current UTC day.
func RecordRescue(ctx *vm.Context, player common.Address) error {
	day := core.Day(ctx.Now)
	today, err := ctx.State.GetDailyRescues(player, day)
	if err != nil {
		return err
	}
	if limit := ctx.Params.MaxRescuesPerDay; limit > 0 && today >= limit {
		return fmt.Errorf("%w: %d of %d today", core.ErrRescueLimitReached, today, limit)
	}
	stats, err := ctx.State.GetStats(player)
	if err != nil {
		return err
	}
	total, overflow := math.SafeAdd(stats.TotalRescues, 1)
	if overflow {
		return fmt.Errorf("%w: total rescues", core.ErrOverflow)
	}
	stats.TotalRescues = total
	if err := ctx.State.SetStats(player, stats); err != nil {
		return err
	}
	return ctx.State.SetDailyRescues(player, day, today+1)
}

// GainExperience adds xp to a and applies level-ups: while experience reaches
// level * ExperiencePerLevel the animal advances one level and gains
// PowerPerLevel power. It returns the number of levels gained. The caller
// persists a.
func GainExperience(ctx *vm.Context, a *core.Animal, xp uint64) (uint64, error) {
	exp, overflow := math.SafeAdd(a.Experience, xp)
	if overflow {
		return 0, fmt.Errorf("%w: experience of animal %d", core.ErrOverflow, a.ID)
	}
	a.Experience = exp

	per := ctx.Params.ExperiencePerLevel
	if per == 0 {
		return 0, nil
	}
	var gained uint64
	for {
		threshold, overflow := math.SafeMul(a.Level, per)
		if overflow || a.Experience < threshold {
			break
		}
		power, overflow := math.SafeAdd(a.Power, ctx.Params.PowerPerLevel)
		if overflow {
			return 0, fmt.Errorf("%w: power of animal %d", core.ErrOverflow, a.ID)
		}
		a.Level++
		a.Power = power
		gained++
		ctx.Emit(events.EventAnimalLeveled, map[string]any{
			"animal_id": a.ID,
			"owner":     a.Owner.Hex(),
			"level":     a.Level,
			"power":     a.Power,
		})
	}
	return gained, nil
}

// Owned loads animal id and checks that it belongs to owner.
func Owned(st core.State, id uint64, owner common.Address) (*core.Animal, error) {
	a, err := st.GetAnimal(id)
	if err != nil {
		return nil, fmt.Errorf("animal %d: %w", id, err)
	}
	if a.Owner != owner {
		return nil, fmt.Errorf("%w: animal %d belongs to %s", core.ErrNotOwner, id, a.Owner.Hex())
	}
	return a, nil
}

func handleMintAnimal(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintAnimalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_animal payload: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: animal name cannot be empty", core.ErrInvalidAnimalParameters)
	}
	price := ctx.Params.MintPrice
	if ctx.Paid() < price {
		return fmt.Errorf("%w: paid %d, price %d", core.ErrInsufficientPayment, ctx.Paid(), price)
	}
	if err := RecordRescue(ctx, ctx.Tx.From); err != nil {
		return err
	}
	if err := ctx.Collect(); err != nil {
		return err
	}

	a, err := Issue(ctx, ctx.Tx.From, p.Name, p.Species, p.ImageRef, nil)
	if err != nil {
		return err
	}
	if err := ctx.Pay(ctx.Authority.Treasury, price); err != nil {
		return err
	}
	refund, err := ctx.Refund()
	if err != nil {
		return err
	}
	ctx.SetResult(core.MintResult{AnimalID: a.ID, Refund: refund})
	return nil
}

func handleCareAnimal(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CareAnimalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode care_animal payload: %w", err)
	}
	a, err := Owned(ctx.State, p.AnimalID, ctx.Tx.From)
	if err != nil {
		return err
	}
	gained, err := GainExperience(ctx, a, ctx.Params.CareExperience)
	if err != nil {
		return err
	}
	if err := ctx.State.SetAnimal(a); err != nil {
		return err
	}
	ctx.SetResult(a)
	ctx.Emit(events.EventExperience, map[string]any{
		"animal_id":     a.ID,
		"owner":         a.Owner.Hex(),
		"experience":    ctx.Params.CareExperience,
		"total":         a.Experience,
		"levels_gained": gained,
	})
	return nil
}

func handleTransferAnimal(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferAnimalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_animal payload: %w", err)
	}
	if p.To == (common.Address{}) {
		return fmt.Errorf("%w: recipient required", core.ErrInvalidAddress)
	}
	a, err := Owned(ctx.State, p.AnimalID, ctx.Tx.From)
	if err != nil {
		return err
	}
	if p.To == a.Owner {
		return fmt.Errorf("%w: animal %d already owned by recipient", core.ErrInvalidAddress, a.ID)
	}

	from := a.Owner
	a.Owner = p.To
	if err := ctx.State.SetAnimal(a); err != nil {
		return err
	}
	ctx.SetResult(a)
	ctx.Emit(events.EventAssetTransfer, map[string]any{
		"animal_id": a.ID,
		"from":      from.Hex(),
		"to":        p.To.Hex(),
	})
	return nil
}
