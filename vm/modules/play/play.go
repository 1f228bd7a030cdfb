// Package play opens level runs. A player pays the level entry fee in game
// tokens before playing; the score for that run is only accepted while the
// run is open.
package play

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/vm"
	"github.com/tolelom/rescuechain/vm/modules/animal"
)

func init() {
	vm.Register(core.TxPlayLevel, handlePlayLevel)
}

// handlePlayLevel checks the level, the animal's owner and the player's
// token balance, then moves EntryFee tokens to the treasury and records the
// play. An unfinished earlier play is replaced and its fee is not returned.
func handlePlayLevel(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlayLevelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode play_level payload: %w", err)
	}
	player := ctx.Tx.From

	if _, err := ctx.State.GetLevel(p.LevelID); errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: %d", core.ErrUnknownLevel, p.LevelID)
	} else if err != nil {
		return err
	}
	if _, err := animal.Owned(ctx.State, p.AnimalID, player); err != nil {
		return err
	}

	fee := ctx.Params.EntryFee
	acc, err := ctx.State.GetAccount(player)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Tokens < fee {
		return fmt.Errorf("%w: have %d, entry fee %d", core.ErrInsufficientTokens, acc.Tokens, fee)
	}
	if fee > 0 && player != ctx.Authority.Treasury {
		treasury, err := ctx.State.GetAccount(ctx.Authority.Treasury)
		if err != nil {
			return fmt.Errorf("get treasury: %w", err)
		}
		tokens, overflow := math.SafeAdd(treasury.Tokens, fee)
		if overflow {
			return fmt.Errorf("%w: treasury tokens", core.ErrOverflow)
		}
		acc.Tokens -= fee
		treasury.Tokens = tokens
		if err := ctx.State.SetAccount(acc); err != nil {
			return err
		}
		if err := ctx.State.SetAccount(treasury); err != nil {
			return err
		}
	}

	pl := &core.Play{
		Player:    player,
		LevelID:   p.LevelID,
		AnimalID:  p.AnimalID,
		Fee:       fee,
		StartedAt: ctx.Now.Unix(),
	}
	if err := ctx.State.SetPlay(pl); err != nil {
		return err
	}
	ctx.SetResult(pl)
	ctx.Emit(events.EventLevelStarted, map[string]any{
		"player":    player.Hex(),
		"level_id":  p.LevelID,
		"animal_id": p.AnimalID,
		"fee":       fee,
	})
	return nil
}
