package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
	"github.com/angelmondragon/cardsync-backend/pkg/migrate"
)

const serviceName = "cardsync-migrate"

// goose commands forwarded as-is; each needs a database connection.
var gooseCommands = map[string]bool{
	"up":     true,
	"down":   true,
	"redo":   true,
	"status": true,
}

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "directory holding the inventory schema migrations")
	flag.StringVar(&opts.name, "name", "", "migration name, -cmd=create only")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS, -cmd=version only")
	flag.Parse()

	_ = godotenv.Load()

	// offline commands run before config so they work without a database env
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			exit(errors.New("-name is required for create"))
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			exit(err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			exit(err)
		}
		fmt.Println("migrations valid:", opts.dir)
		return
	}

	if err := runOnline(opts); err != nil {
		exit(err)
	}
}

func runOnline(opts options) error {
	if !gooseCommands[opts.cmd] && opts.cmd != "version" {
		return fmt.Errorf("unknown -cmd %q", opts.cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}

	logg.Info(ctx, "migrate.start")
	if opts.cmd == "version" {
		if opts.version == "" {
			return errors.New("-version is required for version")
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	} else {
		err = migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	}
	if err != nil {
		logg.Error(ctx, "migrate.failed", err)
		return err
	}
	logg.Info(ctx, "migrate.done")
	return nil
}

func exit(err error) {
	fmt.Fprintln(os.Stderr, serviceName+":", err)
	os.Exit(1)
}
