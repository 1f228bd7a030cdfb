// Package admin holds the controller-only operations: trusted signer
// rotation, level creation and pricing.
package admin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/vm"
)

func init() {
	vm.Register(core.TxSetTrustedSigner, handleSetTrustedSigner)
	vm.Register(core.TxCreateLevel, handleCreateLevel)
	vm.Register(core.TxSetMintPrice, handleSetMintPrice)
}

func handleSetTrustedSigner(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetTrustedSignerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_trusted_signer payload: %w", err)
	}
	if err := ctx.RequireController(); err != nil {
		return err
	}
	if p.Signer == (common.Address{}) {
		return fmt.Errorf("%w: signer required", core.ErrInvalidAddress)
	}

	auth := ctx.Authority
	previous := auth.TrustedSigner
	auth.TrustedSigner = p.Signer
	if err := ctx.State.SetAuthority(&auth); err != nil {
		return err
	}
	ctx.SetResult(auth)
	ctx.Emit(events.EventSignerChanged, map[string]any{
		"previous": previous.Hex(),
		"signer":   p.Signer.Hex(),
	})
	return nil
}

// handleCreateLevel registers a level under the next id. Level ids start at 1.
func handleCreateLevel(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateLevelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_level payload: %w", err)
	}
	if err := ctx.RequireController(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: level name required", core.ErrInvalidParameters)
	}

	seq, err := ctx.State.NextSequence(core.SeqLevel)
	if err != nil {
		return err
	}
	l := &core.Level{
		ID:               seq + 1,
		Name:             p.Name,
		Difficulty:       p.Difficulty,
		TokenReward:      p.TokenReward,
		ExperienceReward: p.ExperienceReward,
	}
	if err := ctx.State.SetLevel(l); err != nil {
		return err
	}
	ctx.SetResult(l)
	ctx.Emit(events.EventLevelCreated, map[string]any{
		"level_id":          l.ID,
		"name":              l.Name,
		"difficulty":        l.Difficulty,
		"token_reward":      l.TokenReward,
		"experience_reward": l.ExperienceReward,
	})
	return nil
}

func handleSetMintPrice(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetMintPricePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_mint_price payload: %w", err)
	}
	if err := ctx.RequireController(); err != nil {
		return err
	}
	params := ctx.Params
	previous := params.MintPrice
	params.MintPrice = p.Price
	if err := ctx.State.SetParams(&params); err != nil {
		return err
	}
	ctx.SetResult(params)
	ctx.Emit(events.EventMintPriceChanged, map[string]any{
		"previous": previous,
		"price":    p.Price,
	})
	return nil
}
