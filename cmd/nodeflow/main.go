package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/vk/nodeflow/internal/app"
)

func configFromCmd(cmd *cli.Command) (*app.Config, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, fmt.Errorf("a .gph file or directory is required")
	}
	return &app.Config{
		Path:      path,
		Watch:     cmd.Bool("watch"),
		Input:     cmd.String("input"),
		LogLevel:  cmd.String("log-level"),
		LogFormat: cmd.String("log-format"),
	}, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return err
	}
	return app.New(os.Stdout, cfg).Run(ctx)
}

func checkAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return err
	}
	return app.New(os.Stdout, cfg).Check(ctx)
}

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Literal fed to the network as its external input",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level: debug, info, warn, error",
			Value:   "info",
			Sources: cli.EnvVars("NODEFLOW_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format: text or json",
			Value:   "text",
			Sources: cli.EnvVars("NODEFLOW_LOG_FORMAT"),
		},
	}

	cmd := &cli.Command{
		Name:  "nodeflow",
		Usage: "Compile and evaluate node graph documents",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Compile a document and evaluate its exported network",
				ArgsUsage: "PATH",
				Action:    runAction,
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:    "watch",
						Aliases: []string{"w"},
						Usage:   "Recompile and re-evaluate on document changes",
					},
				}, flags...),
			},
			{
				Name:      "check",
				Usage:     "Compile and type a document without evaluating it",
				ArgsUsage: "PATH",
				Action:    checkAction,
				Flags:     flags,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
