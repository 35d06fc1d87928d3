package config

import "time"

type Config struct {
	// URL of the membership service; empty selects the static directory.
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	// OwnerID always resolves with every capability.
	OwnerID string `yaml:"owner_id"`
}
