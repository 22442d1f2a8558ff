package sqlite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/loykin/ch2migrate/internal/constants"
)

// Config describes how to open a SQLite database file.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
	// BusyTimeoutMS bounds how long a statement waits on a lock before
	// failing. Zero means constants.DefaultBusyTimeoutMS.
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms"`
	// ForeignKeys turns on foreign key enforcement for every connection.
	ForeignKeys bool `mapstructure:"foreign_keys" yaml:"foreign_keys"`
	// Mode is the URI open mode: "ro", "rw" or "rwc". Empty means "rw".
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// DSN builds a modernc.org/sqlite URI for the config.
func (c Config) DSN() string {
	timeout := c.BusyTimeoutMS
	if timeout <= 0 {
		timeout = constants.DefaultBusyTimeoutMS
	}
	fk := 0
	if c.ForeignKeys {
		fk = 1
	}
	mode := strings.TrimSpace(c.Mode)
	if mode == "" {
		mode = "rw"
	}
	q := url.Values{}
	q.Set("mode", mode)
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout))
	q.Add("_pragma", fmt.Sprintf("foreign_keys(%d)", fk))
	return "file:" + c.Path + "?" + q.Encode()
}

func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"path": c.Path,
		"dsn":  c.DSN(),
	}
}
