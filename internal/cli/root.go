// Package cli implements the cekresi command line tool.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/cekresi/internal/config"
	"github.com/noah-isme/cekresi/internal/obs"
	"github.com/noah-isme/cekresi/internal/resilience"
	"github.com/noah-isme/cekresi/internal/shipping"
)

type globalFlags struct {
	provider string
	apiKey   string
	baseURL  string
	timeout  time.Duration
	logLevel string
}

// NewRootCmd builds the root command. It reads RAJAONGKIR_API_KEY from the
// environment as the default for --api-key.
func NewRootCmd(version string) *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "cekresi",
		Short:         "Track Indonesian shipments in bulk",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.provider, "provider", config.ProviderMock, "tracking provider (mock|rajaongkir)")
	cmd.PersistentFlags().StringVar(&g.apiKey, "api-key", os.Getenv("RAJAONGKIR_API_KEY"), "RajaOngkir API key")
	cmd.PersistentFlags().StringVar(&g.baseURL, "base-url", "", "override the provider base URL")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 15*time.Second, "per lookup timeout")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level written to stderr")

	cmd.AddCommand(newTrackCmd(g))
	cmd.AddCommand(newInferCmd())
	return cmd
}

func (g *globalFlags) logger(w io.Writer) zerolog.Logger {
	return obs.NewLoggerTo(w, "console", g.logLevel)
}

func (g *globalFlags) buildProvider(logger zerolog.Logger) (shipping.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(g.provider)) {
	case config.ProviderMock:
		return shipping.Mock{}, nil
	case config.ProviderRajaOngkir:
		if g.apiKey == "" {
			return nil, fmt.Errorf("--api-key or RAJAONGKIR_API_KEY is required for provider %q", g.provider)
		}
		return shipping.RajaOngkir{
			APIKey:  g.apiKey,
			BaseURL: g.baseURL,
			HTTP: resilience.HTTPClient{
				Client:      &http.Client{},
				BaseBackoff: 200 * time.Millisecond,
				MaxAttempts: 3,
				Jitter:      0.2,
				Timeout:     g.timeout,
				Target:      "rajaongkir",
				Logger:      &logger,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", g.provider)
	}
}
