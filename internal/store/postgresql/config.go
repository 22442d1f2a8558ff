package postgresql

import (
	"fmt"
	"net/url"

	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/util"
)

// Config describes a PostgreSQL replay target. DSN wins over the
// individual fields when both are set.
type Config struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// BuildDSN returns the connection string, or an error when neither a DSN
// nor a host is configured.
func (p *Config) BuildDSN() (string, error) {
	if dsn, ok := util.TrimEmptyCheck(p.DSN); ok {
		return dsn, nil
	}
	host, ok := util.TrimEmptyCheck(p.Host)
	if !ok {
		return "", fmt.Errorf("postgresql target needs dsn or host")
	}
	port := p.Port
	if port == 0 {
		port = constants.DefaultPostgresPort
	}
	ssl := util.TrimWithDefault(p.SSLMode, constants.DefaultPostgresSSLMode)

	fields := util.TrimSpaceFields(p.User, p.Password, p.DBName)
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + fields[2],
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	if fields[0] != "" {
		if fields[1] != "" {
			u.User = url.UserPassword(fields[0], fields[1])
		} else {
			u.User = url.User(fields[0])
		}
	}
	return u.String(), nil
}

func (p *Config) ToMap() map[string]interface{} {
	dsn, _ := p.BuildDSN()
	return map[string]interface{}{
		"dsn": dsn,
	}
}
