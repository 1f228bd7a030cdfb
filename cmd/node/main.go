// Command node runs a rescue ledger node and provides key and attestation
// helpers for operators.
//
// Usage:
//
//	node [--config config.json] [--key node.key] run
//	node --key signer.key genkey
//	node --key signer.key sign-score --player 0x.. --level 1 --animal 0 --score 4200 --nonce 0
//	node --config config.json token --address 0x..
//	node --config config.json gencerts --dir certs
package main

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/tolelom/rescuechain/archive"
	"github.com/tolelom/rescuechain/config"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/crypto"
	"github.com/tolelom/rescuechain/crypto/certgen"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/game"
	"github.com/tolelom/rescuechain/indexer"
	"github.com/tolelom/rescuechain/leaderboard"
	"github.com/tolelom/rescuechain/rpc"
	"github.com/tolelom/rescuechain/storage"
	"github.com/tolelom/rescuechain/vm"
	"github.com/tolelom/rescuechain/wallet"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	app = cli.NewApp()

	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "Path to the JSON config file",
		Value: "config.json",
	}
	keyFlag = cli.StringFlag{
		Name:  "key",
		Usage: "Path to the keystore file (password read from " + config.EnvPassword + ")",
		Value: "node.key",
	}
	envFileFlag = cli.StringFlag{
		Name:  "envfile",
		Usage: "Optional KEY=VALUE file loaded before reading the environment",
		Value: ".env",
	}

	playerFlag = cli.StringFlag{Name: "player", Usage: "Player address the attestation is bound to"}
	levelFlag  = cli.Uint64Flag{Name: "level", Usage: "Level id"}
	animalFlag = cli.Uint64Flag{Name: "animal", Usage: "Animal id used for the run"}
	scoreFlag  = cli.Uint64Flag{Name: "score", Usage: "Score achieved"}
	nonceFlag  = cli.Uint64Flag{Name: "nonce", Usage: "Player's current score nonce"}

	addressFlag = cli.StringFlag{Name: "address", Usage: "Account address the token is issued for"}

	certDirFlag    = cli.StringFlag{Name: "dir", Usage: "Output directory for PEM files", Value: "certs"}
	certHostFlag   = cli.StringFlag{Name: "host", Usage: "Server name for the RPC certificate (defaults to node id)"}
	certClientFlag = cli.StringFlag{Name: "client", Usage: "Common name of the client certificate", Value: "gameserver"}
)

func init() {
	app.Name = "node"
	app.Usage = "Rescue game ledger node"
	app.Version = "0.1.0"
	app.Action = runCmd
	app.Flags = []cli.Flag{
		configFlag,
		keyFlag,
		envFileFlag,
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Start the ledger and its RPC server",
			Action: runCmd,
		},
		{
			Name:   "genkey",
			Usage:  "Generate a new key and write it to the keystore file",
			Action: genkeyCmd,
		},
		{
			Name:   "sign-score",
			Usage:  "Sign a score attestation with the keystore key (game server role)",
			Action: signScoreCmd,
			Flags:  []cli.Flag{playerFlag, levelFlag, animalFlag, scoreFlag, nonceFlag},
		},
		{
			Name:   "token",
			Usage:  "Issue an RPC bearer token for an address using the configured secret",
			Action: tokenCmd,
			Flags:  []cli.Flag{addressFlag},
		},
		{
			Name:   "gencerts",
			Usage:  "Generate a CA with RPC server and client certificates",
			Action: gencertsCmd,
			Flags:  []cli.Flag{certDirFlag, certHostFlag, certClientFlag},
		},
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the env file and config and installs the root logger.
func setup(ctx *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFiles(ctx.GlobalString(envFileFlag.Name)); err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	cfg, err := loadConfig(ctx.GlobalString(configFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyEnv()

	lvl, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return cfg, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Config file not found, using defaults", "path", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func password() string {
	pw := os.Getenv(config.EnvPassword)
	if pw == "" {
		log.Warn("Keystore password not set, using an empty password", "env", config.EnvPassword)
	}
	return pw
}

func runCmd(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	// ---- journal signing key ----
	privKey, err := wallet.LoadKey(ctx.GlobalString(keyFlag.Name), password())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	journal := core.NewJournal(storage.NewJournalStore(db))
	if err := journal.Init(); err != nil {
		return fmt.Errorf("journal init: %w", err)
	}
	if tip := journal.Tip(); tip != nil {
		if root := state.ComputeRoot(); root != tip.Header.StateRoot {
			return fmt.Errorf("state root %s does not match journal entry %d root %s", root, tip.Header.Height, tip.Header.StateRoot)
		}
	}

	// ---- events and read models ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	bg, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	var board *leaderboard.Leaderboard
	if cfg.Redis.Addr != "" {
		rdb, err := leaderboard.Dial(bg, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		board = leaderboard.New(rdb, emitter)
		wg.Add(1)
		go func() {
			defer wg.Done()
			board.Run(bg)
		}()
		log.Info("Leaderboard enabled", "redis", cfg.Redis.Addr)
	}

	if cfg.PostgresDSN != "" {
		pool, err := archive.Open(bg, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		sink := archive.New(pool, emitter)
		if err := sink.Migrate(bg); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Run(bg)
		}()
		log.Info("Event archive enabled")
	}

	// ---- ledger and genesis ----
	ledger := vm.NewLedger(state, journal, emitter, privKey)
	if journal.Tip() == nil {
		seed, err := cfg.Genesis.Seed()
		if err != nil {
			return err
		}
		if _, err := ledger.InitGenesis(config.GenesisTx(), seed); err != nil {
			return err
		}
	}
	if err := ledger.View(idx.Rebuild); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	svc := game.New(ledger, idx)

	// ---- RPC ----
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := crand.Read(buf); err != nil {
			return err
		}
		secret = hex.EncodeToString(buf)
		log.Warn("JWT secret not configured, tokens will not survive a restart", "env", config.EnvJWTSecret)
	}
	auth, err := rpc.NewAuthenticator(secret, time.Duration(cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	server := rpc.NewServer(cfg.RPCAddr, rpc.NewHandler(svc, board), auth)
	if tlsCfg != nil {
		err = server.StartTLS(tlsCfg)
	} else {
		err = server.Start()
	}
	if err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	log.Info("Node started", "id", cfg.NodeID, "signer", crypto.Address(privKey), "height", journal.Height())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down")

	// Stop accepting writes, then let the sinks flush what is queued.
	if err := server.Stop(); err != nil {
		log.Warn("RPC shutdown", "err", err)
	}
	cancel()
	wg.Wait()
	log.Info("Shutdown complete")
	return nil
}

func genkeyCmd(ctx *cli.Context) error {
	if _, err := setup(ctx); err != nil {
		return err
	}
	w, err := wallet.Generate()
	if err != nil {
		return err
	}
	path := ctx.GlobalString(keyFlag.Name)
	if err := wallet.SaveKey(path, password(), w.PrivKey()); err != nil {
		return err
	}
	fmt.Printf("Address: %s\n", w.Address().Hex())
	fmt.Printf("Saved to: %s\n", path)
	return nil
}

func signScoreCmd(ctx *cli.Context) error {
	if _, err := setup(ctx); err != nil {
		return err
	}
	player, err := crypto.ParseAddress(ctx.String(playerFlag.Name))
	if err != nil {
		return fmt.Errorf("--player: %w", err)
	}
	priv, err := wallet.LoadKey(ctx.GlobalString(keyFlag.Name), password())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	w := wallet.New(priv)
	sig, err := w.SignScore(player,
		ctx.Uint64(levelFlag.Name),
		ctx.Uint64(animalFlag.Name),
		ctx.Uint64(scoreFlag.Name),
		ctx.Uint64(nonceFlag.Name),
	)
	if err != nil {
		return err
	}
	fmt.Printf("Signer: %s\n", w.Address().Hex())
	fmt.Printf("Signature: %s\n", hexutil.Encode(sig))
	return nil
}

func tokenCmd(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(ctx.String(addressFlag.Name))
	if err != nil {
		return fmt.Errorf("--address: %w", err)
	}
	auth, err := rpc.NewAuthenticator(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("%w (set %s)", err, config.EnvJWTSecret)
	}
	token, err := auth.Issue(addr)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func gencertsCmd(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	host := ctx.String(certHostFlag.Name)
	if host == "" {
		host = cfg.NodeID
	}
	files, err := certgen.GenerateAll(ctx.String(certDirFlag.Name), host, ctx.String(certClientFlag.Name), nil)
	if err != nil {
		return fmt.Errorf("gencerts: %w", err)
	}
	fmt.Printf("Server: %s %s\n", files.ServerCert, files.ServerKey)
	fmt.Printf("Client: %s %s\n", files.ClientCert, files.ClientKey)
	fmt.Printf("Set tls.cert/tls.key to the server pair and tls.client_ca to %s to require client certificates.\n", files.CACert)
	return nil
}
