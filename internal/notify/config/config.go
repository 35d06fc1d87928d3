package config

import "time"

type Config struct {
	// Sink is one of "log", "webhook", "kafka".
	Sink string `yaml:"sink"`

	// webhook
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	LogChannelID string        `yaml:"log_channel_id"`
	Timeout      time.Duration `yaml:"timeout"`

	// kafka
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	ArchiveTopic string   `yaml:"archive_topic"`
}
