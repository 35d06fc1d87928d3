package config

import "time"

const (
	TiesFirst = "first"
	TiesSkip  = "skip"
)

type Config struct {
	// Weekly trigger, UTC
	Day  time.Weekday `yaml:"day"`
	Hour int          `yaml:"hour"`
	// Guard skips a run that follows the previous one too closely.
	Guard time.Duration `yaml:"guard"`

	Ceiling     int `yaml:"ceiling"`
	MaxFailures int `yaml:"max_failures"`

	MVPBonus int    `yaml:"mvp_bonus"`
	MVPTies  string `yaml:"mvp_ties"`

	// Scope names the server the run covers; one marker per scope.
	Scope          string `yaml:"scope"`
	SupportGuildID string `yaml:"support_guild_id"`
	ChannelID      string `yaml:"channel_id"`
}

func Default() Config {
	return Config{
		Day:         time.Sunday,
		Hour:        23,
		Guard:       12 * time.Hour,
		Ceiling:     30,
		MaxFailures: 2,
		MVPBonus:    3000,
		MVPTies:     TiesFirst,
		Scope:       "default",
		ChannelID:   "quota",
	}
}
