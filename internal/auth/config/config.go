package config

type Config struct {
	Secret string
}
