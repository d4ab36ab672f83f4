package db

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/SAP/go-hdb/driver"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Vendor string

const (
	VendorHANA     Vendor = "hana"
	VendorPostgres Vendor = "postgres"
)

// Statements holds the text/template sources of the vendor commands. An
// empty PendingFreezeIDs means the freeze statement itself returns the id.
type Statements struct {
	Freeze           string
	PendingFreezeIDs string
	Thaw             string
}

var builtinStatements = map[Vendor]Statements{
	VendorHANA: {
		Freeze:           `BACKUP DATA FOR FULL SYSTEM CREATE SNAPSHOT`,
		PendingFreezeIDs: `SELECT BACKUP_ID FROM M_BACKUP_CATALOG WHERE STATE_NAME='prepared'`,
		Thaw: `BACKUP DATA FOR FULL SYSTEM CLOSE SNAPSHOT BACKUP_ID {{ number .FreezeID }} ` +
			`{{ if .Success }}SUCCESSFUL {{ literal .Label }}{{ else }}UNSUCCESSFUL {{ literal .Reason }}{{ end }}`,
	},
	VendorPostgres: {
		Freeze: `SELECT pg_backup_start({{ literal .Label }}, true)::text`,
		Thaw:   `SELECT lsn::text FROM pg_backup_stop(true)`,
	},
}

// DefaultStatements returns the built-in statements for v with any non-empty
// field of override applied on top.
func DefaultStatements(v Vendor, override Statements) (Statements, error) {
	s, ok := builtinStatements[v]
	if !ok {
		return Statements{}, fmt.Errorf("database: unsupported vendor %q", v)
	}
	if override.Freeze != "" {
		s.Freeze = override.Freeze
	}
	if override.PendingFreezeIDs != "" {
		s.PendingFreezeIDs = override.PendingFreezeIDs
	}
	if override.Thaw != "" {
		s.Thaw = override.Thaw
	}
	return s, nil
}

type ConnectionConfig struct {
	Vendor         Vendor
	Host           string
	Port           int
	Instance       string
	SSLMode        string
	ConnectTimeout time.Duration
}

func (c ConnectionConfig) driverName() string {
	if c.Vendor == VendorPostgres {
		return "pgx"
	}
	return "hdb"
}

// DSN builds the driver connection string for the given credentials.
func (c ConnectionConfig) DSN(user, password string) (string, error) {
	if c.Host == "" {
		return "", fmt.Errorf("database: host is required")
	}
	u := url.URL{
		User: url.UserPassword(user, password),
		Host: net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}
	q := url.Values{}

	switch c.Vendor {
	case VendorHANA:
		u.Scheme = "hdb"
		if c.Instance != "" {
			q.Set("databaseName", c.Instance)
		}
	case VendorPostgres:
		u.Scheme = "postgres"
		if c.Instance != "" {
			u.Path = "/" + c.Instance
		}
		if c.SSLMode != "" {
			q.Set("sslmode", c.SSLMode)
		}
		if c.ConnectTimeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout/time.Second)))
		}
	default:
		return "", fmt.Errorf("database: unsupported vendor %q", c.Vendor)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// openPool opens a pool capped at one connection so every statement of a
// session runs on the same database connection.
func (c ConnectionConfig) openPool(dsn string) (*sql.DB, error) {
	pool, err := sql.Open(c.driverName(), dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	pool.SetConnMaxLifetime(0)
	pool.SetConnMaxIdleTime(0)
	return pool, nil
}
