package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/xiangqi-arena/pkg/xqproto"
)

type AppConfig struct {
	ListenAddr string
	WSAddr     string
	AdminAddr  string

	RedisURL       string
	PresenceTTLSec int

	MessagesDir string

	MaxFrameBytes int
	SendQueueSize int
}

// PresenceTTL is the lifetime of presence keys in Redis.
func (c *AppConfig) PresenceTTL() time.Duration {
	return time.Duration(c.PresenceTTLSec) * time.Second
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     ":8888",
		PresenceTTLSec: 3600,
		MaxFrameBytes:  64 << 10,
		SendQueueSize:  64,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.WSAddr = strings.TrimSpace(os.Getenv("WS_ADDR"))
	cfg.AdminAddr = strings.TrimSpace(os.Getenv("ADMIN_ADDR"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("PRESENCE_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PresenceTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_FRAME_BYTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxFrameBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEND_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendQueueSize = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the addresses; it is called again after flags override env.
func (c *AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR is required")
	}
	for name, addr := range map[string]string{"LISTEN_ADDR": c.ListenAddr, "WS_ADDR": c.WSAddr, "ADMIN_ADDR": c.AdminAddr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("REDIS_URL: unsupported scheme in %q", c.RedisURL)
	}
	if c.MaxFrameBytes < xqproto.MinFrame {
		return fmt.Errorf("MAX_FRAME_BYTES: %d is below %d", c.MaxFrameBytes, xqproto.MinFrame)
	}
	return nil
}
