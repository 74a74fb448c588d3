package observability

import (
	"strings"

	"github.com/smallbiznis/paysync/internal/config"
)

const defaultServiceName = "paysync"

// Config is the normalized view of config.Telemetry shared by the logger,
// tracer and meter providers.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig derives the observability settings from the application config.
// Unknown levels, formats and protocols fall back to info, json and grpc.
func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	telemetry := cfg.Telemetry

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             normalizeLevel(telemetry.LogLevel),
		LogFormat:            normalizeFormat(telemetry.LogFormat),
		OtelEnabled:          telemetry.OtelEnabled && strings.TrimSpace(telemetry.OtelEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(telemetry.OtelEndpoint),
		OtelExporterProtocol: normalizeProtocol(telemetry.OtelProtocol),
		OtelSamplingRatio:    clampRatio(telemetry.OtelSamplingRate),
	}
}

// Debug enables verbose logging and gin debug mode.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func normalizeLevel(level string) string {
	switch level = strings.ToLower(strings.TrimSpace(level)); level {
	case "debug", "info", "warn", "error":
		return level
	case "warning":
		return "warn"
	default:
		return "info"
	}
}

func normalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return "console"
	}
	return "json"
}

func normalizeProtocol(protocol string) string {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf", "http/json":
		return "http"
	default:
		return "grpc"
	}
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
