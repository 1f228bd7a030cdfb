package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tolelom/rescuechain/crypto"
	"github.com/tolelom/rescuechain/game"
	"github.com/tolelom/rescuechain/leaderboard"
)

const maxLeaderboardLimit = 100

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	svc   *game.Service
	board *leaderboard.Leaderboard // nil when Redis is not configured
}

// NewHandler creates an RPC Handler. board may be nil.
func NewHandler(svc *game.Service, board *leaderboard.Leaderboard) *Handler {
	return &Handler{svc: svc, board: board}
}

// Dispatch routes an RPC request to the correct method. Mutating methods
// act on behalf of the caller authenticated in ctx.
func (h *Handler) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	// ---- queries ----
	case "getScoreProtocol":
		return okResponse(req.ID, crypto.ScoreProtocolVersion)
	case "getJournalHeight":
		return okResponse(req.ID, h.svc.JournalHeight())
	case "getEntry":
		return h.getEntry(req)
	case "getMission":
		return h.getMission(req)
	case "listActiveMissions":
		return h.listActiveMissions(req)
	case "getRescuedMissions":
		return h.getRescuedMissions(req)
	case "getPlayerStats":
		return h.getPlayerStats(req)
	case "getAccount":
		return h.getAccount(req)
	case "getUserAssets":
		return h.getUserAssets(req)
	case "getAnimal":
		return h.getAnimal(req)
	case "getLevel":
		return h.getLevel(req)
	case "getAuthority":
		return h.getAuthority(req)
	case "getParams":
		return h.getParams(req)
	case "getLeaderboard":
		return h.getLeaderboard(ctx, req)
	case "getRank":
		return h.getRank(ctx, req)
	case "getPayout":
		return h.getPayout(req)
	case "listPendingPayouts":
		return h.listPendingPayouts(req)

	// ---- operations ----
	case "createMission":
		return h.withCaller(ctx, req, h.createMission)
	case "fulfillMission":
		return h.withCaller(ctx, req, h.fulfillMission)
	case "playLevel":
		return h.withCaller(ctx, req, h.playLevel)
	case "submitScore":
		return h.withCaller(ctx, req, h.submitScore)
	case "mintAnimal":
		return h.withCaller(ctx, req, h.mintAnimal)
	case "careForAnimal":
		return h.withCaller(ctx, req, h.careForAnimal)
	case "transferAnimal":
		return h.withCaller(ctx, req, h.transferAnimal)
	case "withdraw":
		return h.withCaller(ctx, req, h.withdraw)
	case "setTrustedSigner":
		return h.withCaller(ctx, req, h.setTrustedSigner)
	case "createLevel":
		return h.withCaller(ctx, req, h.createLevel)
	case "setMintPrice":
		return h.withCaller(ctx, req, h.setMintPrice)
	case "deposit":
		return h.withCaller(ctx, req, h.deposit)
	case "settlePayout":
		return h.withCaller(ctx, req, h.settlePayout)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) withCaller(ctx context.Context, req Request, fn func(common.Address, Request) Response) Response {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return errResponse(req.ID, CodeUnauthorized, "authentication required")
	}
	return fn(caller, req)
}

// decodeParams unmarshals req.Params into v. Absent params decode as {}.
func decodeParams(req Request, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

type idParams struct {
	ID *uint64 `json:"id"`
}

type addressParams struct {
	Address *common.Address `json:"address"`
}

func (h *Handler) decodeID(req Request) (uint64, *Response) {
	var p idParams
	if err := decodeParams(req, &p); err != nil {
		r := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return 0, &r
	}
	if p.ID == nil {
		r := errResponse(req.ID, CodeInvalidParams, "id is required")
		return 0, &r
	}
	return *p.ID, nil
}

func (h *Handler) decodeAddress(req Request) (common.Address, *Response) {
	var p addressParams
	if err := decodeParams(req, &p); err != nil {
		r := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return common.Address{}, &r
	}
	if p.Address == nil {
		r := errResponse(req.ID, CodeInvalidParams, "address is required")
		return common.Address{}, &r
	}
	return *p.Address, nil
}

// ---- queries ----

func (h *Handler) getEntry(req Request) Response {
	var p struct {
		Height *uint64 `json:"height"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	height := h.svc.JournalHeight()
	if p.Height != nil {
		height = *p.Height
	}
	e, err := h.svc.GetEntry(height)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, e)
}

func (h *Handler) getMission(req Request) Response {
	id, bad := h.decodeID(req)
	if bad != nil {
		return *bad
	}
	m, err := h.svc.GetMission(id)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, m)
}

func (h *Handler) listActiveMissions(req Request) Response {
	ms, err := h.svc.ListActiveMissions()
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, nonNil(ms))
}

func (h *Handler) getRescuedMissions(req Request) Response {
	addr, bad := h.decodeAddress(req)
	if bad != nil {
		return *bad
	}
	ms, err := h.svc.MissionsRescuedBy(addr)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, nonNil(ms))
}

func (h *Handler) getPlayerStats(req Request) Response {
	addr, bad := h.decodeAddress(req)
	if bad != nil {
		return *bad
	}
	stats, err := h.svc.GetPlayerStats(addr)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, stats)
}

func (h *Handler) getAccount(req Request) Response {
	addr, bad := h.decodeAddress(req)
	if bad != nil {
		return *bad
	}
	acc, err := h.svc.GetAccount(addr)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, acc)
}

func (h *Handler) getUserAssets(req Request) Response {
	addr, bad := h.decodeAddress(req)
	if bad != nil {
		return *bad
	}
	animals, err := h.svc.GetUserAssets(addr)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, nonNil(animals))
}

func (h *Handler) getAnimal(req Request) Response {
	id, bad := h.decodeID(req)
	if bad != nil {
		return *bad
	}
	a, err := h.svc.GetAnimal(id)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, a)
}

func (h *Handler) getLevel(req Request) Response {
	id, bad := h.decodeID(req)
	if bad != nil {
		return *bad
	}
	l, err := h.svc.GetLevel(id)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, l)
}

func (h *Handler) getAuthority(req Request) Response {
	a, err := h.svc.Authority()
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, a)
}

func (h *Handler) getParams(req Request) Response {
	p, err := h.svc.Params()
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, p)
}

func (h *Handler) getLeaderboard(ctx context.Context, req Request) Response {
	if h.board == nil {
		return errResponse(req.ID, CodeUnavailable, "leaderboard not configured")
	}
	var p struct {
		Board string `json:"board"`
		Limit int64  `json:"limit"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	board, err := leaderboard.ParseBoard(p.Board)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if p.Limit <= 0 || p.Limit > maxLeaderboardLimit {
		p.Limit = 10
	}
	entries, err := h.board.Top(ctx, board, p.Limit)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, nonNil(entries))
}

func (h *Handler) getRank(ctx context.Context, req Request) Response {
	if h.board == nil {
		return errResponse(req.ID, CodeUnavailable, "leaderboard not configured")
	}
	var p struct {
		Board   string          `json:"board"`
		Address *common.Address `json:"address"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if p.Address == nil {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	board, err := leaderboard.ParseBoard(p.Board)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	entry, err := h.board.Rank(ctx, board, *p.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, entry)
}

func (h *Handler) getPayout(req Request) Response {
	id, bad := h.decodeID(req)
	if bad != nil {
		return *bad
	}
	po, err := h.svc.GetPayout(id)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, po)
}

func (h *Handler) listPendingPayouts(req Request) Response {
	pos, err := h.svc.PendingPayouts()
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, nonNil(pos))
}

// ---- operations ----

func (h *Handler) createMission(caller common.Address, req Request) Response {
	var p struct {
		AnimalName string `json:"animal_name"`
		Species    string `json:"species"`
		Location   string `json:"location"`
		ImageRef   string `json:"image_ref"`
		Fee        uint64 `json:"fee"`
		Duration   int64  `json:"duration_seconds"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if p.Duration > math.MaxInt64/int64(time.Second) {
		return errResponse(req.ID, CodeInvalidParams, "duration_seconds out of range")
	}
	m, err := h.svc.CreateMission(caller, game.MissionRequest{
		AnimalName: p.AnimalName,
		Species:    p.Species,
		Location:   p.Location,
		ImageRef:   p.ImageRef,
		Fee:        p.Fee,
		Duration:   time.Duration(p.Duration) * time.Second,
	})
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, m)
}

func (h *Handler) fulfillMission(caller common.Address, req Request) Response {
	var p struct {
		MissionID *uint64 `json:"mission_id"`
		Paid      uint64  `json:"paid"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if p.MissionID == nil {
		return errResponse(req.ID, CodeInvalidParams, "mission_id is required")
	}
	res, err := h.svc.FulfillMission(caller, *p.MissionID, p.Paid)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, res)
}

func (h *Handler) playLevel(caller common.Address, req Request) Response {
	var p struct {
		LevelID  *uint64 `json:"level_id"`
		AnimalID *uint64 `json:"animal_id"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if p.LevelID == nil || p.AnimalID == nil {
		return errResponse(req.ID, CodeInvalidParams, "level_id and animal_id are required")
	}
	play, err := h.svc.PlayLevel(caller, *p.LevelID, *p.AnimalID)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, play)
}

func (h *Handler) submitScore(caller common.Address, req Request) Response {
	var p struct {
		LevelID   uint64        `json:"level_id"`
		AnimalID  uint64        `json:"animal_id"`
		Score     uint64        `json:"score"`
		Nonce     uint64        `json:"nonce"`
		Signature hexutil.Bytes `json:"signature"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	res, err := h.svc.SubmitScore(caller, game.ScoreSubmission{
		LevelID:   p.LevelID,
		AnimalID:  p.AnimalID,
		Score:     p.Score,
		Nonce:     p.Nonce,
		Signature: p.Signature,
	})
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, res)
}

func (h *Handler) mintAnimal(caller common.Address, req Request) Response {
	var p struct {
		Name     string `json:"name"`
		Species  string `json:"species"`
		ImageRef string `json:"image_ref"`
		Paid     uint64 `json:"paid"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	res, err := h.svc.MintAnimal(caller, p.Name, p.Species, p.ImageRef, p.Paid)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, res)
}

func (h *Handler) careForAnimal(caller common.Address, req Request) Response {
	var p struct {
		AnimalID *uint64 `json:"animal_id"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if p.AnimalID == nil {
		return errResponse(req.ID, CodeInvalidParams, "animal_id is required")
	}
	a, err := h.svc.CareForAnimal(caller, *p.AnimalID)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, a)
}

func (h *Handler) transferAnimal(caller common.Address, req Request) Response {
	var p struct {
		AnimalID *uint64        `json:"animal_id"`
		To       common.Address `json:"to"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if p.AnimalID == nil {
		return errResponse(req.ID, CodeInvalidParams, "animal_id is required")
	}
	a, err := h.svc.TransferAnimal(caller, *p.AnimalID, p.To)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, a)
}

func (h *Handler) withdraw(caller common.Address, req Request) Response {
	var p struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	res, err := h.svc.Withdraw(caller, p.Amount)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, res)
}

func (h *Handler) settlePayout(caller common.Address, req Request) Response {
	var p struct {
		PayoutID *uint64 `json:"payout_id"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if p.PayoutID == nil {
		return errResponse(req.ID, CodeInvalidParams, "payout_id is required")
	}
	po, err := h.svc.SettlePayout(caller, *p.PayoutID)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, po)
}

func (h *Handler) setTrustedSigner(caller common.Address, req Request) Response {
	var p struct {
		Signer common.Address `json:"signer"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if err := h.svc.SetTrustedSigner(caller, p.Signer); err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"signer": p.Signer.Hex()})
}

func (h *Handler) createLevel(caller common.Address, req Request) Response {
	var p struct {
		Name             string `json:"name"`
		Difficulty       uint64 `json:"difficulty"`
		TokenReward      uint64 `json:"token_reward"`
		ExperienceReward uint64 `json:"experience_reward"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	l, err := h.svc.CreateLevel(caller, p.Name, p.Difficulty, p.TokenReward, p.ExperienceReward)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, l)
}

func (h *Handler) setMintPrice(caller common.Address, req Request) Response {
	var p struct {
		Price uint64 `json:"price"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if err := h.svc.SetMintPrice(caller, p.Price); err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]uint64{"price": p.Price})
}

func (h *Handler) deposit(caller common.Address, req Request) Response {
	var p struct {
		To     common.Address `json:"to"`
		Amount uint64         `json:"amount"`
	}
	if err := decodeParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if err := h.svc.Deposit(caller, p.To, p.Amount); err != nil {
		return failResponse(req.ID, err)
	}
	acc, err := h.svc.GetAccount(p.To)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, acc)
}

// nonNil keeps empty lists encoding as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
