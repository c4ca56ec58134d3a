// Package main provides an administration CLI: creating accounts with their
// players, seeding the world into PostgreSQL and minting session tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/twentytwenty/mud/internal/auth"
	"github.com/twentytwenty/mud/internal/config"
	"github.com/twentytwenty/mud/internal/game/world"
	"github.com/twentytwenty/mud/internal/observability"
	"github.com/twentytwenty/mud/internal/storage/postgres"
)

const usage = `usage: mudctl <command> [flags]

commands:
  adduser  create an account and its player
  seed     load a YAML world file into the database
  token    print a session token for an identity
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "adduser":
		err = runAddUser(os.Args[2:])
	case "seed":
		err = runSeed(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	configPath := fs.String("config", "configs/dev.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return config.Load(*configPath)
}

func connect(ctx context.Context, cfg config.Config) (*postgres.Pool, error) {
	logger, err := observability.NewLogger(cfg.Logging, "mudctl")
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

func runAddUser(args []string) error {
	start := time.Now()
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	username := fs.String("username", "", "account username, also the session identity (required)")
	password := fs.String("password", "", "account password (required)")
	name := fs.String("name", "", "player display name (defaults to username)")
	roomName := fs.String("room", "", "starting room (required)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *username == "" || *password == "" || *roomName == "" {
		fs.Usage()
		os.Exit(2)
	}
	if *name == "" {
		*name = *username
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	acct, err := postgres.NewAccountRepository(pool.DB()).Create(ctx, *username, *password)
	if err != nil {
		return err
	}
	p := world.Player{Identity: acct.Username, Name: *name, Room: *roomName}
	if err := postgres.NewWorldRepository(pool.DB()).CreatePlayer(ctx, p); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "created %s (#%d) as %s in %s [%s]\n",
		acct.Username, acct.ID, p.Name, p.Room, time.Since(start))
	return nil
}

func runSeed(args []string) error {
	start := time.Now()
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "", "YAML world file (defaults to world.seed_file)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *file == "" {
		*file = cfg.World.SeedFile
	}
	if *file == "" {
		fs.Usage()
		os.Exit(2)
	}

	w, err := world.LoadWorldFromFile(*file)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.NewWorldRepository(pool.DB()).Seed(ctx, w); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "seeded %d rooms and %d players from %s [%s]\n",
		len(w.Rooms), len(w.Players), *file, time.Since(start))
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	identity := fs.String("identity", "", "identity to sign (required)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *identity == "" {
		fs.Usage()
		os.Exit(2)
	}

	token, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Sign(*identity)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, token)
	return nil
}
