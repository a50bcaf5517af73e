package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/config"
	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/service"
	"github.com/saiset-co/sai-desa/storage"
	"github.com/saiset-co/sai-desa/textfmt"
)

var version = "dev"

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML configuration",
		Value:   "config.yml",
		EnvVars: []string{"SAI_DESA_CONFIG"},
	}

	app := &cli.App{
		Name:    "sai-desa",
		Usage:   "village portal over the desa REST backend",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"start"},
				Usage:   "Start the portal",
				Flags:   []cli.Flag{configFlag},
				Action:  serve,
			},
			{
				Name:  "cache",
				Usage: "Inspect the portal cache storage",
				Subcommands: []*cli.Command{
					{
						Name:  "purge",
						Usage: "Delete cached entries, optionally only those starting with --prefix",
						Flags: []cli.Flag{
							configFlag,
							&cli.StringFlag{Name: "prefix", Usage: "key prefix, e.g. desa_config or session"},
						},
						Action: purge,
					},
				},
			},
			{
				Name:      "textfmt",
				Usage:     "Format free text from stdin as portal HTML",
				ArgsUsage: "< input.txt",
				Action:    format,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	svc, err := service.NewService(c.Context, c.String("config"))
	if err != nil {
		return err
	}
	return svc.Start()
}

func purge(c *cli.Context) error {
	ctx := c.Context

	cfg, err := config.NewLoader().LoadFromFile(ctx, c.String("config"))
	if err != nil {
		return err
	}

	logs, err := logger.NewManager(ctx, cfg.Logger)
	if err != nil {
		return err
	}

	store, err := storage.New(ctx, cfg.Storage, logs)
	if err != nil {
		return err
	}
	if err := store.Start(); err != nil {
		return err
	}
	defer func() {
		if err := store.Stop(); err != nil {
			logs.Warn("Failed to close storage", zap.Error(err))
		}
	}()

	removed, err := storage.Purge(ctx, store, c.String("prefix"))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "removed %d entries from %s storage\n", removed, store.Type())
	return nil
}

func format(c *cli.Context) error {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	doc := textfmt.New(textfmt.DefaultOptions(), logger.NewNop()).Parse(string(input))
	_, err = fmt.Fprintln(c.App.Writer, textfmt.RenderHTML(doc))
	return err
}
