package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/threadscribe/internal/api"
	"github.com/threadscribe/internal/config"
)

// TokenCommand returns the CLI command for issuing gateway service tokens
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a service token for a chat gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tenant",
				Usage:    "Tenant (workspace) id the token is scoped to",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 90 * 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Server.AuthSecret == "" {
		return fmt.Errorf("server auth_secret is not configured")
	}

	token, err := api.IssueServiceToken(cfg.Server.AuthSecret, c.String("tenant"), c.Duration("ttl"))
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
