package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/usecase"
)

type actorFlags struct {
	id   string
	role string
}

func (f *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "actor", "cli", "actor id the command runs as")
	cmd.Flags().StringVar(&f.role, "role", string(domain.RoleUser), "actor role: user, admin or superadmin")
}

func (f *actorFlags) actor() (domain.Actor, error) {
	role := domain.Role(f.role)
	switch role {
	case domain.RoleUser, domain.RoleAdmin, domain.RoleSuperAdmin:
	default:
		return domain.Actor{}, fmt.Errorf("unknown role: %s", f.role)
	}
	if f.id == "" {
		return domain.Actor{}, fmt.Errorf("actor id is required")
	}
	return domain.Actor{ID: f.id, Role: role}, nil
}

type requestFlags struct {
	locale    string
	timezone  string
	currency  string
	priority  string
	confirmed bool
}

func (f *requestFlags) register(cmd *cobra.Command, withConfirm bool) {
	cmd.Flags().StringVar(&f.locale, "locale", "", "message locale: en or zh")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA timezone used for relative dates")
	cmd.Flags().StringVar(&f.currency, "currency", "", "default currency for amounts")
	if withConfirm {
		cmd.Flags().StringVar(&f.priority, "priority", "", "model call priority: low, normal or high")
		cmd.Flags().BoolVar(&f.confirmed, "yes", false, "allow commands that delete data")
	}
}

func (f *requestFlags) request(text string) usecase.CommandRequest {
	return usecase.CommandRequest{
		Text:      text,
		Locale:    f.locale,
		Timezone:  f.timezone,
		Currency:  f.currency,
		Priority:  f.priority,
		Confirmed: f.confirmed,
	}
}

// withPipeline builds the app, runs the limiter for the duration of fn and
// tears everything down afterwards.
func withPipeline(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, true)

	a, err := buildApp(ctx, opts, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.limiter.Run(limiterCtx) })
	g.Go(func() error {
		defer stopLimiter()
		return fn(gctx, a)
	})
	return g.Wait()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		actor   actorFlags
		request requestFlags
	)

	cmd := &cobra.Command{
		Use:   "run <text>",
		Short: "Route, run and summarize one command",
		Example: `  studio run "add a session with Alice tomorrow at 3pm for 60 minutes"
  studio run --locale zh "列出本月所有支出"
  studio run --yes "delete yesterday's expenses"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor.actor()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")

			return withPipeline(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				resp, err := a.commands.Run(ctx, who, request.request(text))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), resp.Summary)
				return writeJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	actor.register(cmd)
	request.register(cmd, true)
	return cmd
}

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var request requestFlags

	cmd := &cobra.Command{
		Use:   "compile <text>",
		Short: "Compile and validate one command without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withPipeline(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				resp, err := a.commands.Compile(ctx, request.request(text))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	request.register(cmd, false)
	return cmd
}
