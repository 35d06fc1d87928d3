package config

import "time"

type Config struct {
	ClaimWindow    time.Duration `yaml:"claim_window"`
	PrepWindow     time.Duration `yaml:"prep_window"`
	FailsafeWindow time.Duration `yaml:"failsafe_window"`
	// HandoffTimeout bounds the delivery hand-off before the fallback path.
	HandoffTimeout time.Duration `yaml:"handoff_timeout"`
	// CallbackTimeout bounds the store work of one scheduled callback.
	CallbackTimeout time.Duration `yaml:"callback_timeout"`

	PreparerPayout  int `yaml:"preparer_payout"`
	FulfillerPayout int `yaml:"fulfiller_payout"`

	// ETA estimate: minutes of staff time per queued order.
	MinutesPerOrder int `yaml:"minutes_per_order"`
	MaxItemLength   int `yaml:"max_item_length"`

	// Каналы сервера поддержки
	SupportGuildID    string `yaml:"support_guild_id"`
	KitchenChannelID  string `yaml:"kitchen_channel_id"`
	DeliveryChannelID string `yaml:"delivery_channel_id"`
	WarningChannelID  string `yaml:"warning_channel_id"`
}

func Default() Config {
	return Config{
		ClaimWindow:       4 * time.Minute,
		PrepWindow:        3 * time.Minute,
		FailsafeWindow:    20 * time.Minute,
		HandoffTimeout:    10 * time.Second,
		CallbackTimeout:   30 * time.Second,
		PreparerPayout:    20,
		FulfillerPayout:   30,
		MinutesPerOrder:   40,
		MaxItemLength:     200,
		KitchenChannelID:  "kitchen",
		DeliveryChannelID: "delivery",
		WarningChannelID:  "warnings",
	}
}
