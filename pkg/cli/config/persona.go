package config

import (
	"os"

	domainConfig "github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// Persona holds the CLI flag for the persona TOML file
type Persona struct {
	path string
}

// Flags returns CLI flags for persona configuration
func (p *Persona) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "persona",
			Usage:       "Path to persona TOML file (built-in defaults when empty)",
			Sources:     cli.EnvVars("YUKI_PERSONA"),
			Destination: &p.path,
		},
	}
}

// Path returns the configured persona file path
func (p *Persona) Path() string {
	return p.path
}

// Configure loads the persona, layering the TOML file over the built-in
// defaults so a file only has to state what it changes.
func (p *Persona) Configure() (*domainConfig.Persona, error) {
	persona := domainConfig.DefaultPersona()

	if p.path != "" {
		// #nosec G304 - path is expected to be provided by CLI argument
		data, err := os.ReadFile(p.path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read persona file", goerr.V("path", p.path))
		}
		if err := toml.Unmarshal(data, persona); err != nil {
			return nil, goerr.Wrap(err, "failed to parse persona TOML", goerr.V("path", p.path))
		}
	}

	if err := persona.Validate(); err != nil {
		return nil, goerr.Wrap(err, "persona validation failed", goerr.V("path", p.path))
	}

	return persona, nil
}
