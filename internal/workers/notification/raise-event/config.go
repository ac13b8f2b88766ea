package raiseevent

import "time"

type Config struct {
	// Timeout bounds validation and submission of one job or message.
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}
