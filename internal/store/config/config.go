package config

type Config struct {
	// DBDsn selects PostgreSQL; empty keeps everything in memory.
	DBDsn string `yaml:"database_uri"`
}
