package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"TRACKING_PROVIDER": "",
		"BULK_BATCH_SIZE":   "",
		"BULK_DELAY":        "",
		"PORT":              "",
	})
	require.NoError(t, err)

	require.Equal(t, ProviderMock, cfg.TrackingProvider)
	require.Equal(t, 3, cfg.Bulk.BatchSize)
	require.Equal(t, time.Second, cfg.Bulk.Delay)
	require.Equal(t, 100, cfg.Bulk.MaxItems)
	require.Equal(t, 8, cfg.Bulk.MinLength)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"TRACKING_PROVIDER":    "RajaOngkir",
		"RAJAONGKIR_API_KEY":   "secret",
		"BULK_BATCH_SIZE":      "5",
		"BULK_DELAY":           "250ms",
		"TRACK_RATE_LIMIT":     "30-M",
		"CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example",
		"PORT":                 ":9090",
	})
	require.NoError(t, err)

	require.Equal(t, ProviderRajaOngkir, cfg.TrackingProvider)
	require.Equal(t, 5, cfg.Bulk.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.Bulk.Delay)
	require.Equal(t, "30-M", cfg.Rate.TrackLimit)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{"BULK_DELAY": "soon"})
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.Bulk.Delay)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{"unknown provider", map[string]string{"TRACKING_PROVIDER": "pigeon"}, "unsupported TRACKING_PROVIDER"},
		{"missing api key", map[string]string{"TRACKING_PROVIDER": "rajaongkir", "RAJAONGKIR_API_KEY": ""}, "RAJAONGKIR_API_KEY"},
		{"batch too large", map[string]string{"BULK_BATCH_SIZE": "101"}, "BULK_BATCH_SIZE"},
		{"batch zero", map[string]string{"BULK_BATCH_SIZE": "0"}, "BULK_BATCH_SIZE"},
		{"tracing exporter", map[string]string{"OBS_TRACING_EXPORTER": "zipkin"}, "OBS_TRACING_EXPORTER"},
		{"sampling ratio", map[string]string{"OBS_TRACING_SAMPLING_RATIO": "1.5"}, "OBS_TRACING_SAMPLING_RATIO"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadForTests(tc.env)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.msg)
		})
	}
}
