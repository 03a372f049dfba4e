package cli

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/kurame123/Yuki-bot/pkg/cli/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// parseScope turns a kind:id argument into a validated Scope
func parseScope(raw string) (types.Scope, error) {
	kind, id, found := strings.Cut(raw, ":")
	if !found || kind == "" || id == "" {
		return types.Scope{}, goerr.New("scope must be kind:id, e.g. private:12345", goerr.V("scope", raw))
	}

	scope := types.Scope{Kind: types.ScopeKind(kind), ID: id}
	if err := scope.Validate(); err != nil {
		return types.Scope{}, err
	}
	return scope, nil
}

func cmdGC() *cli.Command {
	var scopeArg string

	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var personaCfg config.Persona

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "scope",
			Usage:       "Target partition as kind:id (private:USER or group:GROUP)",
			Required:    true,
			Sources:     cli.EnvVars("YUKI_SCOPE"),
			Destination: &scopeArg,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, personaCfg.Flags()...)

	return &cli.Command{
		Name:  "gc",
		Usage: "Run memory garbage collection on one partition",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			scope, err := parseScope(scopeArg)
			if err != nil {
				return err
			}

			app, err := buildApp(ctx, &repoCfg, &geminiCfg, &personaCfg)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			report, err := app.UseCases.Admin.RunGC(ctx, scope)
			if err != nil {
				return goerr.Wrap(err, "memory GC failed")
			}

			logging.Default().Info("memory GC report",
				"scope", scope.Key(),
				"expired", report.Expired,
				"duplicates", report.Duplicates,
				"decayed", report.Decayed,
				"summarized", report.Summarized)
			return nil
		},
	}
}

func cmdCleanup() *cli.Command {
	var scopeArg string

	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var personaCfg config.Persona

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "scope",
			Usage:       "Target partition as kind:id (private:USER or group:GROUP)",
			Required:    true,
			Sources:     cli.EnvVars("YUKI_SCOPE"),
			Destination: &scopeArg,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, personaCfg.Flags()...)

	return &cli.Command{
		Name:  "cleanup",
		Usage: "Run knowledge graph cleanup on one partition",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			scope, err := parseScope(scopeArg)
			if err != nil {
				return err
			}

			app, err := buildApp(ctx, &repoCfg, &geminiCfg, &personaCfg)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			report, err := app.UseCases.Admin.RunCleanup(ctx, scope)
			if err != nil {
				return goerr.Wrap(err, "graph cleanup failed")
			}

			logging.Default().Info("graph cleanup report",
				"scope", scope.Key(),
				"reviewed", report.Reviewed,
				"relations_removed", report.RelationsRemoved,
				"entities_merged", report.EntitiesMerged,
				"floor_deleted", report.FloorDeleted)
			return nil
		},
	}
}
