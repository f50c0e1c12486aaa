// Package config loads process configuration from the environment, the way
// every long-running service in this codebase does.
package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr        string   `env:"LISTEN_ADDR, default=0.0.0.0:6473"`
	CursorDBPath      string   `env:"CURSOR_DB_PATH, default=link-aggregator-cursor.db"`
	JetstreamEndpoint string   `env:"JETSTREAM_ENDPOINT, default=wss://jetstream1.us-west.bsky.network/subscribe"`
	Collections       []string `env:"COLLECTIONS, delimiter=,"`
	Dev               bool     `env:"DEV, default=false"`
}

type Telemetry struct {
	ServiceName    string `env:"SERVICE_NAME, default=link-aggregator"`
	ServiceVersion string `env:"SERVICE_VERSION, default=dev"`
}

type Config struct {
	Server    Server    `env:",prefix=LINKAGG_SERVER_"`
	Telemetry Telemetry `env:",prefix=LINKAGG_TELEMETRY_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
