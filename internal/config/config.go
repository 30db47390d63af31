package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel string `yaml:"log-level" env-default:"info"`
	HTTPPort string `yaml:"http-port" env-default:"8080"`
	Redis    Redis  `yaml:"redis"`
	Game     Game   `yaml:"game"`
}

type Redis struct {
	Host string `yaml:"host" env-default:"localhost"`
	Port string `yaml:"port" env-default:"6379"`
}

// Game - timing knobs of the coordination core. Durations are seconds.
type Game struct {
	RoomTTL       int `yaml:"room-ttl" env-default:"86400"`
	StoryTTL      int `yaml:"story-ttl" env-default:"604800"`
	PassphraseTTL int `yaml:"passphrase-ttl" env-default:"900"`
	PollTimeout   int `yaml:"poll-timeout" env-default:"20"`
	LockLease     int `yaml:"lock-lease" env-default:"5"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

func (that *Game) GetRoomTTL() time.Duration {
	return time.Duration(that.RoomTTL) * time.Second
}

func (that *Game) GetStoryTTL() time.Duration {
	return time.Duration(that.StoryTTL) * time.Second
}

func (that *Game) GetPassphraseTTL() time.Duration {
	return time.Duration(that.PassphraseTTL) * time.Second
}

func (that *Game) GetPollTimeout() time.Duration {
	return time.Duration(that.PollTimeout) * time.Second
}

func (that *Game) GetLockLease() time.Duration {
	return time.Duration(that.LockLease) * time.Second
}
