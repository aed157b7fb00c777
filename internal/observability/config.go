package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/meterflow/internal/config"
)

// Config is the observability view of the engine: who is reporting, how
// verbosely, and where spans and OTel metrics are exported.
type Config struct {
	Service ServiceInfo
	Log     LogSettings
	Otel    OtelSettings
}

type ServiceInfo struct {
	Name        string
	Environment string
	Version     string
}

type LogSettings struct {
	Level  string
	Format string
}

type OtelSettings struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

func LoadConfig(cfg config.Config) Config {
	out := Config{
		Service: ServiceInfo{
			Name:        firstNonEmpty(cfg.AppName, "meterflow"),
			Environment: firstNonEmpty(os.Getenv("DEPLOYMENT_ENV"), cfg.Environment),
			Version:     firstNonEmpty(os.Getenv("SERVICE_VERSION"), cfg.AppVersion),
		},
		Log: LogSettings{
			Level:  strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")),
			Format: strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), "json")),
		},
		Otel: OtelSettings{
			Endpoint:      firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.OTLPEndpoint),
			Protocol:      strings.ToLower(firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"), os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"), "grpc")),
			SamplingRatio: 0.1,
		},
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("OTEL_ENABLED"))); err == nil {
		out.Otel.Enabled = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("OTEL_SAMPLING_RATIO")), 64); err == nil {
		out.Otel.SamplingRatio = v
	}
	return out
}

// Debug is true for debug level or any non-production environment.
func (c Config) Debug() bool {
	if c.Log.Level == "debug" {
		return true
	}
	switch strings.ToLower(c.Service.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
