package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"

	"github.com/kurame123/Yuki-bot/pkg/cli/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/urfave/cli/v3"
)

func cmdChat() *cli.Command {
	var userID string
	var userName string
	var groupID string

	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var personaCfg config.Persona

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Usage:       "User ID for the conversation",
			Value:       "local",
			Sources:     cli.EnvVars("YUKI_CHAT_USER"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "user-name",
			Usage:       "Display name shown to the companion",
			Sources:     cli.EnvVars("YUKI_CHAT_USER_NAME"),
			Destination: &userName,
		},
		&cli.StringFlag{
			Name:        "group",
			Usage:       "Chat in the given group scope instead of the private one",
			Sources:     cli.EnvVars("YUKI_CHAT_GROUP"),
			Destination: &groupID,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, personaCfg.Flags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation in a terminal",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := buildApp(ctx, &repoCfg, &geminiCfg, &personaCfg)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.Queue.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start post-turn worker")
			}
			defer app.Queue.Stop()

			uid := types.UserID(userID)
			scope := types.NewPrivateScope(uid)
			if groupID != "" {
				scope = types.NewGroupScope(groupID)
			}

			botColor := color.New(color.FgCyan, color.Bold)
			metaColor := color.New(color.FgHiBlack)

			fmt.Fprintf(c.Root().Writer, "Chat session started (scope %s). Type 'exit' to quit.\n", scope.Key())

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Fprintf(c.Root().Writer, "> ")
				if !scanner.Scan() {
					break
				}

				message := scanner.Text()
				if message == "exit" {
					break
				}
				if message == "" {
					continue
				}

				result, err := app.UseCases.Chat.HandleTurn(ctx, &model.TurnInput{
					Scope:    scope,
					UserID:   uid,
					UserName: userName,
					Text:     message,
				})
				if err != nil {
					fmt.Fprintf(c.Root().Writer, "%s\n", color.RedString("error: %v", err))
					continue
				}

				botColor.Fprintf(c.Root().Writer, "%s\n", result.Reply)
				metaColor.Fprintf(c.Root().Writer, "[%s | memories %d | facts %d | temp %.2f]\n",
					result.LevelName, result.MemoryHits, result.GraphFacts, result.Temperature)
			}

			fmt.Fprintf(c.Root().Writer, "\nChat session completed\n")
			return nil
		},
	}
}
