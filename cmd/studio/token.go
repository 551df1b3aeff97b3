package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	httpadapter "github.com/Borui-Eduation/student-records-sub000/internal/adapter/http"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		actor actorFlags
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			who, err := actor.actor()
			if err != nil {
				return err
			}

			now := time.Now()
			token, err := httpadapter.NewTokenVerifier(cfg.Auth.JWTSecret).IssueToken(who, jwt.MapClaims{
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	actor.register(cmd)
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
