// Package config turns the command line and environment into server settings.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nczempin/httpd-go-uring/endpoint"
	"github.com/nczempin/httpd-go-uring/logging"
	"github.com/nczempin/httpd-go-uring/protocol"
	"github.com/nczempin/httpd-go-uring/server"
	"github.com/nczempin/httpd-go-uring/transport"
)

const (
	// MinPort is the lowest port outside the well-known range
	MinPort = 1024
	MaxPort = 65535
)

// Environment variables that override defaults
const (
	EnvFamily         = "HTTPD_FAMILY"
	EnvBackend        = "HTTPD_BACKEND"
	EnvReadTimeout    = "HTTPD_READ_TIMEOUT"
	EnvMaxHeaderBytes = "HTTPD_MAX_HEADER_BYTES"
	EnvNoReverseDNS   = "HTTPD_NO_REVERSE_DNS"
	EnvLogLevel       = "HTTPD_LOG_LEVEL"
)

// ErrUsage is wrapped by every error that should print the usage line
var ErrUsage = stderrors.New("invalid command line")

// Config is the complete runtime configuration
type Config struct {
	Port           uint16
	StaticDir      string
	Indices        []string
	Family         endpoint.Family
	Backend        transport.Backend
	ReadTimeout    time.Duration
	MaxHeaderBytes int
	NoReverseDNS   bool
	LogLevel       string
}

// Usage returns the usage line for prog
func Usage(prog string) string {
	return fmt.Sprintf("Usage: %s port staticfiles_directory indices+", prog)
}

// ParseArgs reads os.Args-style arguments and the process environment
func ParseArgs(args []string, log logrus.FieldLogger) (*Config, error) {
	return Parse(args, os.LookupEnv, log)
}

// Parse is ParseArgs with an explicit environment lookup
func Parse(args []string, lookupEnv func(string) (string, bool), log logrus.FieldLogger) (*Config, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("%w: incorrect number of command line arguments", ErrUsage)
	}

	port, err := parsePort(args[1])
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(args[2])
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: path to static file directory %q is invalid", ErrUsage, args[2])
	}

	cfg := &Config{
		Port:           port,
		StaticDir:      args[2],
		Backend:        transport.BackendIoUring,
		Family:         endpoint.FamilyAny,
		ReadTimeout:    server.DefaultReadTimeout,
		MaxHeaderBytes: protocol.DefaultMaxHeaderBytes,
	}

	for _, idx := range args[3:] {
		fi, err := os.Stat(idx)
		if err != nil || !fi.Mode().IsRegular() {
			log.WithField("index", idx).Warn("Skipping index, path not recognized")
			continue
		}
		cfg.Indices = append(cfg.Indices, idx)
	}

	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: port number %q could not be recognized", ErrUsage, s)
	}
	if n < 0 || n > MaxPort {
		return 0, fmt.Errorf("%w: port number %d is invalid", ErrUsage, n)
	}
	if n < MinPort {
		return 0, fmt.Errorf("%w: port number %d is reserved", ErrUsage, n)
	}
	return uint16(n), nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv(EnvFamily); ok {
		f, err := endpoint.ParseFamily(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFamily, err)
		}
		c.Family = f
	}

	if v, ok := lookupEnv(EnvBackend); ok {
		b, err := transport.ParseBackend(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBackend, err)
		}
		c.Backend = b
	}

	if v, ok := lookupEnv(EnvReadTimeout); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d < 0 {
			return fmt.Errorf("%s: invalid duration %q", EnvReadTimeout, v)
		}
		c.ReadTimeout = d
	}

	if v, ok := lookupEnv(EnvMaxHeaderBytes); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid size %q", EnvMaxHeaderBytes, v)
		}
		c.MaxHeaderBytes = n
	}

	if v, ok := lookupEnv(EnvNoReverseDNS); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", EnvNoReverseDNS, v)
		}
		c.NoReverseDNS = b
	}

	if v, ok := lookupEnv(EnvLogLevel); ok {
		if _, err := logrus.ParseLevel(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		c.LogLevel = strings.TrimSpace(v)
	}

	return nil
}

// ApplyLogLevel sets log to the configured level. The parse warnings are
// logged before the level is known, at the default level.
func (c *Config) ApplyLogLevel(log *logrus.Logger) {
	log.SetLevel(logging.ParseLevel(c.LogLevel))
}

// Server returns the listener settings
func (c *Config) Server() server.Config {
	return server.Config{
		Port:           c.Port,
		Family:         c.Family,
		Backend:        c.Backend,
		ReadTimeout:    c.ReadTimeout,
		MaxHeaderBytes: c.MaxHeaderBytes,
		NoReverseDNS:   c.NoReverseDNS,
	}
}
