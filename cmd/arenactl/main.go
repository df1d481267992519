// Command arenactl is the operator tool for the arena server: it applies
// database migrations, creates player accounts, and issues auth tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/arenaroyale/arenaserver/internal/auth"
	"github.com/arenaroyale/arenaserver/internal/config"
	"github.com/arenaroyale/arenaserver/internal/model"
	"github.com/arenaroyale/arenaserver/internal/store"
)

const usage = `usage: arenactl <command> [flags]

commands:
  migrate        apply database migrations
  create-player  create a player account
  issue-token    issue an auth token for an existing player
  top            print the trophy leaderboard
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "create-player":
		err = runCreatePlayer(os.Args[2:])
	case "issue-token":
		err = runIssueToken(os.Args[2:])
	case "top":
		err = runTop(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "arenactl:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Server, error) {
	path := os.Getenv("ARENA_CONFIG")
	if path == "" {
		path = "config/arenaserver.yaml"
	}
	return config.Load(path)
}

func openStore(ctx context.Context, cfg config.Server) (store.PlayerStore, error) {
	if cfg.Database.Host == "" {
		return nil, fmt.Errorf("no database configured, set database.host in the config file")
	}
	return store.NewPostgresStore(ctx, cfg.Database.DSN())
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Host == "" {
		return fmt.Errorf("no database configured, set database.host in the config file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func runCreatePlayer(args []string) error {
	fs := flag.NewFlagSet("create-player", flag.ExitOnError)
	username := fs.String("username", "", "account username (required)")
	password := fs.String("password", "", "account password (required)")
	name := fs.String("name", "", "display name (defaults to username)")
	fs.Parse(args)

	if *username == "" || *password == "" {
		return fmt.Errorf("-username and -password are required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	players, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer players.Close()

	if existing, err := players.FindByUsername(ctx, *username); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("username %q is taken", *username)
	}

	player, err := model.NewPlayer(uuid.NewString(), *username)
	if err != nil {
		return err
	}
	if *name != "" {
		player.Name = *name
	}
	player.PasswordHash, err = auth.HashPassword(*password)
	if err != nil {
		return err
	}

	if err := players.Save(ctx, player); err != nil {
		return err
	}
	fmt.Println("created player", player.ID)
	return nil
}

func runIssueToken(args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ExitOnError)
	playerID := fs.String("player", "", "player id (or use -username)")
	username := fs.String("username", "", "player username (or use -player)")
	fs.Parse(args)

	if *playerID == "" && *username == "" {
		return fmt.Errorf("-player or -username is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	players, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer players.Close()

	var player *model.Player
	if *playerID != "" {
		player, err = players.Get(ctx, *playerID)
	} else {
		player, err = players.FindByUsername(ctx, *username)
	}
	if err != nil {
		return err
	}
	if player == nil {
		return fmt.Errorf("player not found")
	}

	tokens := auth.NewTokenManager(cfg.TokenSecret, time.Duration(cfg.TokenExpiryHours)*time.Hour)
	token, err := tokens.Issue(player.ID, player.Username, player.IsGuest)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runTop(args []string) error {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	limit := fs.Int("n", 10, "number of players to print")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	players, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer players.Close()

	top, err := players.ByRank(ctx, *limit)
	if err != nil {
		return err
	}
	for i, p := range top {
		fmt.Printf("%3d. %-20s %5d trophies  %4d elo  %d-%d-%d\n",
			i+1, p.DisplayName(), p.Stats.Trophies, p.Stats.Elo,
			p.Stats.Wins, p.Stats.Losses, p.Stats.Draws)
	}
	return nil
}
