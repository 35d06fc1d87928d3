package config

import "time"

type Config struct {
	StandardPrice int `yaml:"standard_price"`
	MemberPrice   int `yaml:"member_price"`
	PriorityPrice int `yaml:"priority_price"`

	DailyAllowance       int           `yaml:"daily_allowance"`
	MemberDailyAllowance int           `yaml:"member_daily_allowance"`
	DailyCooldown        time.Duration `yaml:"daily_cooldown"`

	PerkPrice    int           `yaml:"perk_price"`
	PerkDuration time.Duration `yaml:"perk_duration"`

	MaxGreeting int `yaml:"max_greeting"`
}

func Default() Config {
	return Config{
		StandardPrice:        100,
		MemberPrice:          50,
		PriorityPrice:        150,
		DailyAllowance:       1000,
		MemberDailyAllowance: 2000,
		DailyCooldown:        24 * time.Hour,
		PerkPrice:            15000,
		PerkDuration:         30 * 24 * time.Hour,
		MaxGreeting:          1000,
	}
}
