// Package score accepts game-server-attested level results. Each attestation
// binds player, level, animal, score and the player's current nonce, so a
// signature is usable exactly once.
package score

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/crypto"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/vm"
	"github.com/tolelom/rescuechain/vm/modules/animal"
)

func init() {
	vm.Register(core.TxSubmitScore, handleSubmitScore)
}

// Reward returns the game tokens paid for score on level:
// TokenReward + (score / scorePerToken) * Difficulty.
func Reward(level *core.Level, score, scorePerToken uint64) (uint64, error) {
	var bonus uint64
	if scorePerToken > 0 {
		var overflow bool
		bonus, overflow = math.SafeMul(score/scorePerToken, level.Difficulty)
		if overflow {
			return 0, fmt.Errorf("%w: reward bonus", core.ErrOverflow)
		}
	}
	total, overflow := math.SafeAdd(level.TokenReward, bonus)
	if overflow {
		return 0, fmt.Errorf("%w: reward", core.ErrOverflow)
	}
	return total, nil
}

// handleSubmitScore verifies, in order: signature recovery, trusted signer,
// nonce equality, level, animal ownership, and the open play for that level
// and animal. Only then are the nonce, stats, token balance and animal
// experience updated and the play closed.
func handleSubmitScore(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SubmitScorePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode submit_score payload: %w", err)
	}
	player := ctx.Tx.From

	att := crypto.ScoreAttestation{
		Player:   player,
		LevelID:  p.LevelID,
		AnimalID: p.AnimalID,
		Score:    p.Score,
		Nonce:    p.Nonce,
	}
	signer, err := att.Signer(p.Signature)
	if err != nil {
		return err
	}
	if signer != ctx.Authority.TrustedSigner {
		return fmt.Errorf("%w: recovered %s", core.ErrInvalidSignature, signer.Hex())
	}

	acc, err := ctx.State.GetAccount(player)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if p.Nonce != acc.Nonce {
		return fmt.Errorf("%w: expected %d, got %d", core.ErrReplayedOrStaleNonce, acc.Nonce, p.Nonce)
	}

	level, err := ctx.State.GetLevel(p.LevelID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: %d", core.ErrUnknownLevel, p.LevelID)
	}
	if err != nil {
		return err
	}
	pet, err := animal.Owned(ctx.State, p.AnimalID, player)
	if err != nil {
		return err
	}
	play, err := ctx.State.GetPlay(player)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: player %s", core.ErrNoActivePlay, player.Hex())
	}
	if err != nil {
		return err
	}
	if play.LevelID != p.LevelID || play.AnimalID != p.AnimalID {
		return fmt.Errorf("%w: open play is level %d with animal %d", core.ErrNoActivePlay, play.LevelID, play.AnimalID)
	}

	reward, err := Reward(level, p.Score, ctx.Params.ScorePerToken)
	if err != nil {
		return err
	}
	stats, err := ctx.State.GetStats(player)
	if err != nil {
		return err
	}
	if err := applyScore(stats, p.Score, reward); err != nil {
		return err
	}
	tokens, overflow := math.SafeAdd(acc.Tokens, reward)
	if overflow {
		return fmt.Errorf("%w: token balance", core.ErrOverflow)
	}
	nonce, overflow := math.SafeAdd(acc.Nonce, 1)
	if overflow {
		return fmt.Errorf("%w: nonce", core.ErrOverflow)
	}
	acc.Nonce = nonce
	acc.Tokens = tokens

	gained, err := animal.GainExperience(ctx, pet, level.ExperienceReward)
	if err != nil {
		return err
	}

	if err := ctx.State.SetAccount(acc); err != nil {
		return err
	}
	if err := ctx.State.SetStats(player, stats); err != nil {
		return err
	}
	if err := ctx.State.SetAnimal(pet); err != nil {
		return err
	}
	if err := ctx.State.DeletePlay(player); err != nil {
		return err
	}

	ctx.SetResult(core.ScoreResult{
		Reward:       reward,
		NextNonce:    acc.Nonce,
		LevelsGained: gained,
		Stats:        *stats,
	})
	ctx.Emit(events.EventScoreAccepted, map[string]any{
		"player":      player.Hex(),
		"level_id":    p.LevelID,
		"animal_id":   p.AnimalID,
		"score":       p.Score,
		"nonce":       p.Nonce,
		"reward":      reward,
		"entry_fee":   play.Fee,
		"high_score":  stats.HighScore,
		"total_score": stats.TotalScore,
	})
	return nil
}

func applyScore(stats *core.PlayerStats, score, reward uint64) error {
	completed, overflow := math.SafeAdd(stats.LevelsCompleted, 1)
	if overflow {
		return fmt.Errorf("%w: levels completed", core.ErrOverflow)
	}
	total, overflow := math.SafeAdd(stats.TotalScore, score)
	if overflow {
		return fmt.Errorf("%w: total score", core.ErrOverflow)
	}
	earned, overflow := math.SafeAdd(stats.TokensEarned, reward)
	if overflow {
		return fmt.Errorf("%w: tokens earned", core.ErrOverflow)
	}
	stats.LevelsCompleted = completed
	stats.TotalScore = total
	stats.TokensEarned = earned
	if score > stats.HighScore {
		stats.HighScore = score
	}
	return nil
}
