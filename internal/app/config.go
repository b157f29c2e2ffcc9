package app

import (
	"time"

	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/utils"
)

type Config struct {
	Port           string
	SchemaSource   string
	SchemaTTL      time.Duration
	MetricsEnabled bool
	ReadGroupUUID  string
}

func LoadConfig(log *logger.Logger) Config {
	schemaSource := utils.GetEnv("SCHEMA_YAML_URL", "", log)
	if schemaSource == "" {
		schemaSource = utils.GetEnv("SCHEMA_YAML_PATH", "schema/provenance_schema.yaml", log)
	}
	schemaTTLSeconds := utils.GetEnvAsInt("SCHEMA_TTL_SECONDS", 600, log)
	return Config{
		Port:           utils.GetEnv("PORT", "8080", log),
		SchemaSource:   schemaSource,
		SchemaTTL:      time.Duration(schemaTTLSeconds) * time.Second,
		MetricsEnabled: utils.GetEnv("METRICS_ENABLED", "true", log) != "false",
		ReadGroupUUID:  utils.GetEnv("READ_GROUP_UUID", "", log),
	}
}
