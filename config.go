package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	Addr            string        `mapstructure:"addr"`
	Port            int           `mapstructure:"port"`
	TCPAddr         string        `mapstructure:"tcp-addr"`
	Origin          string        `mapstructure:"origin"`
	SendTimeout     time.Duration `mapstructure:"send-timeout"`
	WriteWait       time.Duration `mapstructure:"write-wait"`
	PongWait        time.Duration `mapstructure:"pong-wait"`
	MaxMessageSize  int64         `mapstructure:"max-message-size"`
	MaxRequestBytes int64         `mapstructure:"max-request-bytes"`
	TCPIdleTimeout  time.Duration `mapstructure:"tcp-idle-timeout"`
	StopTimeout     time.Duration `mapstructure:"stop-timeout"`
	KillTimeout     time.Duration `mapstructure:"kill-timeout"`
	MetricsTick     time.Duration `mapstructure:"metrics-tick"`
	LogLevel        string        `mapstructure:"log-level"`
	LogFormat       string        `mapstructure:"log-format"`
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("wsrelay", pflag.ContinueOnError)
	fs.String("config", "", "optional config file (yaml, toml or json)")
	fs.String("addr", ":8765", "http service address for devices (/ws) and controllers (/send)")
	fs.Int("port", 0, "overrides the port of --addr; also read from $PORT")
	fs.String("tcp-addr", "", "raw TCP controller address, empty to disable")
	fs.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	fs.Duration("send-timeout", defaultSendTimeout, "time allowed to hand a message to one device")
	fs.Duration("write-wait", defaultWriteWait, "time allowed to write a frame to a device")
	fs.Duration("pong-wait", defaultPongWait, "time allowed to read the next pong from a device")
	fs.Int64("max-message-size", defaultMaxMessageSize, "maximum frame size accepted from a device")
	fs.Int64("max-request-bytes", defaultMaxRequestBytes, "maximum controller message size")
	fs.Duration("tcp-idle-timeout", defaultTCPIdleTimeout, "idle timeout for raw TCP controllers")
	fs.Duration("stop-timeout", 10*time.Second, "stop timeout")
	fs.Duration("kill-timeout", 1*time.Second, "kill timeout")
	fs.Duration("metrics-tick", defaultMetricsTick, "metrics: duration between reports")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "console", "log format (console or json)")
	return fs
}

// loadConfig reads flags from args, then RELAY_* environment variables
// (and PORT), then an optional config file. A .env file in the working
// directory is loaded first when present.
func loadConfig(args []string) (*config, error) {
	_ = godotenv.Load()

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if err := v.BindEnv("port", "RELAY_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) resolve() error {
	if c.Port != 0 {
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("invalid port %d", c.Port)
		}
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil {
			return fmt.Errorf("invalid addr %q: %w", c.Addr, err)
		}
		c.Addr = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}

	durations := map[string]time.Duration{
		"send-timeout":     c.SendTimeout,
		"write-wait":       c.WriteWait,
		"pong-wait":        c.PongWait,
		"tcp-idle-timeout": c.TCPIdleTimeout,
		"stop-timeout":     c.StopTimeout,
		"kill-timeout":     c.KillTimeout,
		"metrics-tick":     c.MetricsTick,
	}
	var errs []error
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max-message-size must be positive, got %d", c.MaxMessageSize))
	}
	if c.MaxRequestBytes <= 0 {
		errs = append(errs, fmt.Errorf("max-request-bytes must be positive, got %d", c.MaxRequestBytes))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log-format must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c *config) wsLimits() wsLimits {
	return wsLimits{
		writeWait:      c.WriteWait,
		pongWait:       c.PongWait,
		maxMessageSize: c.MaxMessageSize,
	}
}
