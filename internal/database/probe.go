package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Prober checks database readiness over the local socket.
type Prober interface {
	// Ping runs a trivial query.
	Ping(ctx context.Context, socket string) error
	// CreateSchema makes sure the application schema exists.
	CreateSchema(ctx context.Context, socket, schema string) error
}

// SQLProber talks to the server with go-sql-driver/mysql over a unix socket.
type SQLProber struct {
	User    string
	Timeout time.Duration
}

// NewSQLProber returns a prober connecting as user with a two second timeout.
func NewSQLProber(user string) *SQLProber {
	return &SQLProber{User: user, Timeout: 2 * time.Second}
}

func (p *SQLProber) open(socket string) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "unix"
	cfg.Addr = socket
	cfg.User = p.User
	cfg.Timeout = p.Timeout
	cfg.ReadTimeout = p.Timeout
	cfg.WriteTimeout = p.Timeout

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Ping runs SELECT 1 over socket within the prober timeout.
func (p *SQLProber) Ping(ctx context.Context, socket string) error {
	db, err := p.open(socket)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("unexpected probe result %d", one)
	}
	return nil
}

// CreateSchema creates schema with the utf8mb4 charset unless it exists.
func (p *SQLProber) CreateSchema(ctx context.Context, socket, schema string) error {
	db, err := p.open(socket)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Schema names are validated as alphanumeric by the config layer.
	_, err = db.ExecContext(ctx, fmt.Sprintf(
		"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", schema))
	return err
}

// Personal.AI order the ending
