package config

import (
	"encoding/json"
	"os"
	"time"
)

// LevelSpec is a level created at genesis.
type LevelSpec struct {
	Name             string `json:"name"`
	Difficulty       uint64 `json:"difficulty"`
	TokenReward      uint64 `json:"token_reward"`
	ExperienceReward uint64 `json:"experience_reward"`
}

// GenesisConfig describes the ledger's initial state.
type GenesisConfig struct {
	Controller    string            `json:"controller"`     // 0x address
	TrustedSigner string            `json:"trusted_signer"` // 0x address
	Treasury      string            `json:"treasury"`       // 0x address; controller when empty
	Params        *ParamsConfig     `json:"params,omitempty"`
	Levels        []LevelSpec       `json:"levels"`
	Alloc         map[string]uint64 `json:"alloc"`       // 0x address -> initial balance
	TokenAlloc    map[string]uint64 `json:"token_alloc"` // 0x address -> initial game tokens
}

// ParamsConfig overrides individual game constants. Nil fields keep the
// defaults.
type ParamsConfig struct {
	MintPrice          *uint64 `json:"mint_price,omitempty"`
	CareExperience     *uint64 `json:"care_experience,omitempty"`
	ExperiencePerLevel *uint64 `json:"experience_per_level,omitempty"`
	PowerPerLevel      *uint64 `json:"power_per_level,omitempty"`
	ScorePerToken      *uint64 `json:"score_per_token,omitempty"`
	EntryFee           *uint64 `json:"entry_fee,omitempty"`
	MaxRescuesPerDay   *uint64 `json:"max_rescues_per_day,omitempty"`
}

// RedisConfig locates the leaderboard store. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// AuthConfig configures bearer tokens on the RPC surface.
type AuthConfig struct {
	JWTSecret string   `json:"jwt_secret"` // empty -> random per-process secret
	TokenTTL  Duration `json:"token_ttl"`
}

// TLSConfig holds PEM paths for serving RPC over TLS. All empty means plain
// HTTP.
type TLSConfig struct {
	Cert     string `json:"cert"`
	Key      string `json:"key"`
	ClientCA string `json:"client_ca"` // optional; requires client certificates
}

// Config holds all node configuration.
type Config struct {
	NodeID      string        `json:"node_id"`
	DataDir     string        `json:"data_dir"`
	RPCAddr     string        `json:"rpc_addr"`
	LogLevel    string        `json:"log_level"`
	PostgresDSN string        `json:"postgres_dsn"` // empty disables the event archive
	Redis       RedisConfig   `json:"redis"`
	Auth        AuthConfig    `json:"auth"`
	TLS         *TLSConfig    `json:"tls,omitempty"`
	Genesis     GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:   "rescue0",
		DataDir:  "./data",
		RPCAddr:  ":8545",
		LogLevel: "info",
		Auth:     AuthConfig{TokenTTL: Duration(24 * time.Hour)},
		Genesis: GenesisConfig{
			Alloc: map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Duration is a time.Duration that encodes as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
