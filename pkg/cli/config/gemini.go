package config

import (
	"context"
	"log/slog"

	"github.com/kurame123/Yuki-bot/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/urfave/cli/v3"
)

// Gemini holds configuration for the Gemini backends: gollem for embeddings
// and structured extraction, the genai adapter for temperature-controlled
// reply generation.
type Gemini struct {
	projectID       string
	location        string
	generativeModel string
}

// Flags returns CLI flags for Gemini configuration
func (g *Gemini) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini API",
			Sources:     cli.EnvVars("YUKI_GEMINI_PROJECT"),
			Destination: &g.projectID,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Sources:     cli.EnvVars("YUKI_GEMINI_LOCATION"),
			Destination: &g.location,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Model used for reply generation",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("YUKI_GEMINI_MODEL"),
			Destination: &g.generativeModel,
		},
	}
}

// LogAttrs returns log attributes for the Gemini configuration
func (g *Gemini) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("project_id", g.projectID),
		slog.String("location", g.location),
		slog.String("model", g.generativeModel),
	}
}

// Configure creates the gollem LLM client used for embeddings and
// knowledge extraction.
func (g *Gemini) Configure(ctx context.Context) (gollem.LLMClient, error) {
	if g.projectID == "" {
		return nil, goerr.New("gemini-project is required")
	}

	client, err := gemini.New(ctx, g.projectID, g.location)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client")
	}

	return client, nil
}

// ConfigureGenerator creates the genai-backed generation adapter
func (g *Gemini) ConfigureGenerator(ctx context.Context) (adapter.Gemini, error) {
	if g.projectID == "" {
		return nil, goerr.New("gemini-project is required")
	}

	client, err := adapter.NewGemini(ctx, g.projectID, g.location,
		adapter.WithGenerativeModel(g.generativeModel))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create generation client")
	}

	return client, nil
}
