package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/crypto"
)

// GenesisTx returns the synthetic transaction recorded as journal entry #0.
func GenesisTx() *core.Transaction {
	return &core.Transaction{ID: "genesis", Type: core.TxGenesis}
}

// Validate checks the genesis addresses and returns the parsed authority.
func (g *GenesisConfig) Validate() (*core.Authority, error) {
	controller, err := crypto.ParseAddress(g.Controller)
	if err != nil {
		return nil, fmt.Errorf("genesis controller: %w", err)
	}
	signer, err := crypto.ParseAddress(g.TrustedSigner)
	if err != nil {
		return nil, fmt.Errorf("genesis trusted_signer: %w", err)
	}
	treasury := controller
	if g.Treasury != "" {
		if treasury, err = crypto.ParseAddress(g.Treasury); err != nil {
			return nil, fmt.Errorf("genesis treasury: %w", err)
		}
	}
	for addr := range g.Alloc {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("genesis alloc: %w", err)
		}
	}
	for addr := range g.TokenAlloc {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("genesis token_alloc: %w", err)
		}
	}
	return &core.Authority{Controller: controller, TrustedSigner: signer, Treasury: treasury}, nil
}

// Seed returns a function that writes the genesis authority, params, levels
// balances and game tokens into state. Levels receive ids 1..n in order.
func (g *GenesisConfig) Seed() (func(st core.State) error, error) {
	auth, err := g.Validate()
	if err != nil {
		return nil, err
	}
	params := g.params()
	return func(st core.State) error {
		if err := st.SetAuthority(auth); err != nil {
			return err
		}
		if err := st.SetParams(&params); err != nil {
			return err
		}
		for _, spec := range g.Levels {
			seq, err := st.NextSequence(core.SeqLevel)
			if err != nil {
				return err
			}
			if err := st.SetLevel(&core.Level{
				ID:               seq + 1,
				Name:             spec.Name,
				Difficulty:       spec.Difficulty,
				TokenReward:      spec.TokenReward,
				ExperienceReward: spec.ExperienceReward,
			}); err != nil {
				return err
			}
		}
		accounts := make(map[common.Address]*core.Account)
		account := func(addr string) *core.Account {
			a := common.HexToAddress(addr)
			if accounts[a] == nil {
				accounts[a] = &core.Account{Address: a}
			}
			return accounts[a]
		}
		for addr, balance := range g.Alloc {
			account(addr).Balance = balance
		}
		for addr, tokens := range g.TokenAlloc {
			account(addr).Tokens = tokens
		}
		for _, acc := range accounts {
			if err := st.SetAccount(acc); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (g *GenesisConfig) params() core.Params {
	p := core.DefaultParams()
	if g.Params == nil {
		return p
	}
	set := func(dst *uint64, v *uint64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.MintPrice, g.Params.MintPrice)
	set(&p.CareExperience, g.Params.CareExperience)
	set(&p.ExperiencePerLevel, g.Params.ExperiencePerLevel)
	set(&p.PowerPerLevel, g.Params.PowerPerLevel)
	set(&p.ScorePerToken, g.Params.ScorePerToken)
	set(&p.EntryFee, g.Params.EntryFee)
	set(&p.MaxRescuesPerDay, g.Params.MaxRescuesPerDay)
	return p
}
