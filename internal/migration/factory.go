package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/agentnode/config"
)

// NewMigratorFromConfig creates a migrator for the node's journal database
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromJournalConfig(cfg.Journal)
}

// NewMigratorFromJournalConfig creates a migrator from the journal section.
// The journal DSN is passed through unchanged; only the driver name is
// normalized to a supported database type.
func NewMigratorFromJournalConfig(jcfg appconfig.JournalConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(jcfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid journal driver: %w", err)
	}

	if jcfg.DSN == "" {
		return nil, fmt.Errorf("journal DSN is required")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  jcfg.DSN,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
