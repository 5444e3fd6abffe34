package config

import (
	"log/slog"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/service/agent"
	"github.com/urfave/cli/v3"
)

// Agent holds CLI flags for the remote inference agent
type Agent struct {
	endpoint string
}

// Flags returns CLI flags for agent configuration
func (a *Agent) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "agent-url",
			Usage:       "Base URL of the inference agent (health, chat and embed endpoints)",
			Value:       "http://localhost:8001",
			Category:    "Agent",
			Sources:     cli.EnvVars("ASCLEPIUS_AGENT_URL"),
			Destination: &a.endpoint,
		},
	}
}

// Endpoint returns the agent base URL
func (a *Agent) Endpoint() string {
	return a.endpoint
}

// LogValue implements slog.LogValuer
func (a Agent) LogValue() slog.Value {
	return slog.GroupValue(slog.String("endpoint", a.endpoint))
}

// Configure validates the endpoint and creates the agent client
func (a *Agent) Configure(opts ...agent.Option) (*agent.Client, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, goerr.Wrap(ErrInvalidConfig, "agent-url must be an absolute http(s) URL", goerr.V("agent_url", a.endpoint))
	}
	return agent.New(opts...), nil
}
