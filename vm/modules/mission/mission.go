// Package mission implements the rescue mission registry and its one-shot
// payable fulfillment.
package mission

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/vm"
	"github.com/tolelom/rescuechain/vm/modules/animal"
)

func init() {
	vm.Register(core.TxCreateMission, handleCreateMission)
	vm.Register(core.TxFulfillMission, handleFulfillMission)
}

func handleCreateMission(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateMissionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_mission payload: %w", err)
	}
	if err := ctx.RequireController(); err != nil {
		return err
	}
	if p.Fee == 0 {
		return fmt.Errorf("%w: fee must be > 0", core.ErrInvalidMissionParameters)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be > 0", core.ErrInvalidMissionParameters)
	}
	if strings.TrimSpace(p.AnimalName) == "" {
		return fmt.Errorf("%w: animal name required", core.ErrInvalidMissionParameters)
	}

	id, err := ctx.State.NextSequence(core.SeqMission)
	if err != nil {
		return err
	}
	created := ctx.Now.Unix()
	m := &core.Mission{
		ID:         id,
		AnimalName: p.AnimalName,
		Species:    p.Species,
		Location:   p.Location,
		ImageRef:   p.ImageRef,
		Fee:        p.Fee,
		CreatedAt:  created,
		ExpiresAt:  created + p.Duration,
		State:      core.MissionOpen,
	}
	if err := ctx.State.SetMission(m); err != nil {
		return err
	}
	ctx.SetResult(m)
	ctx.Emit(events.EventMissionCreated, map[string]any{
		"mission_id":  id,
		"animal_name": m.AnimalName,
		"species":     m.Species,
		"location":    m.Location,
		"fee":         m.Fee,
		"expires_at":  m.ExpiresAt,
	})
	return nil
}

// handleFulfillMission checks, in order: existence, completion, expiry,
// payment, the rescuer's daily limit, then the rescuer's balance. On success
// the mission completes, a reward animal is issued to the caller, the fee
// goes to the treasury and any excess is refunded.
func handleFulfillMission(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FulfillMissionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode fulfill_mission payload: %w", err)
	}

	m, err := ctx.State.GetMission(p.MissionID)
	if err != nil {
		return fmt.Errorf("mission %d: %w", p.MissionID, err)
	}
	if m.State == core.MissionCompleted {
		return fmt.Errorf("%w: mission %d", core.ErrMissionAlreadyCompleted, m.ID)
	}
	if ctx.Now.Unix() >= m.ExpiresAt {
		return fmt.Errorf("%w: mission %d expired at %d", core.ErrMissionExpired, m.ID, m.ExpiresAt)
	}
	paid := ctx.Paid()
	if paid < m.Fee {
		return fmt.Errorf("%w: paid %d, fee %d", core.ErrInsufficientPayment, paid, m.Fee)
	}
	rescuer := ctx.Tx.From
	if err := animal.RecordRescue(ctx, rescuer); err != nil {
		return err
	}
	if err := ctx.Collect(); err != nil {
		return err
	}

	a, err := animal.Issue(ctx, rescuer, m.AnimalName, m.Species, m.ImageRef, &m.ID)
	if err != nil {
		return err
	}
	m.State = core.MissionCompleted
	m.Rescuer = &rescuer
	m.AnimalID = &a.ID
	if err := ctx.State.SetMission(m); err != nil {
		return err
	}

	if err := ctx.Pay(ctx.Authority.Treasury, m.Fee); err != nil {
		return err
	}
	refund, err := ctx.Refund()
	if err != nil {
		return err
	}

	ctx.SetResult(core.FulfillResult{MissionID: m.ID, AnimalID: a.ID, Refund: refund})
	ctx.Emit(events.EventMissionCompleted, map[string]any{
		"mission_id": m.ID,
		"rescuer":    rescuer.Hex(),
		"animal_id":  a.ID,
		"fee":        m.Fee,
		"paid":       paid,
		"refund":     refund,
	})
	return nil
}
