package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

type DatabaseConfig struct {
	Host     string
	User     string
	Password string
	DBName   string
}

type Connection struct {
	db *sql.DB
}

func NewConnection(config DatabaseConfig) (*Connection, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&charset=utf8mb4",
		config.User, config.Password, config.Host, config.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	conn := &Connection{db: db}

	if err := conn.ensureConnection(); err != nil {
		db.Close()
		return nil, err
	}

	return conn, nil
}

// NewConnectionFromDB wraps an already opened pool.
func NewConnectionFromDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// LockCheckout takes the per-user checkout lock. Locks older than five minutes are
// considered abandoned and can be taken over.
func (c *Connection) LockCheckout(ctx context.Context, checkoutID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO checkout_locks (checkout_id, locked_at)
		VALUES (?, NOW())
		ON DUPLICATE KEY UPDATE
		locked_at = IF(locked_at < NOW() - INTERVAL 5 MINUTE, NOW(), locked_at)
	`, checkoutID)
	if err != nil {
		return false, fmt.Errorf("error acquiring lock: %w", mapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (c *Connection) ReleaseLock(ctx context.Context, checkoutID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM checkout_locks
		WHERE checkout_id = ?
	`, checkoutID)
	if err != nil {
		return fmt.Errorf("error releasing lock: %w", err)
	}

	return nil
}

func (c *Connection) ensureConnection() error {
	for retries := 0; retries < 3; retries++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.db.PingContext(ctx)
		cancel()

		if err == nil {
			return nil
		}

		log.Printf("Database ping failed (attempt %d/3): %v", retries+1, err)
		time.Sleep(time.Second * time.Duration(retries+1))
	}
	return fmt.Errorf("failed to establish database connection after 3 attempts")
}

func (c *Connection) Close() error {
	return c.db.Close()
}

func (c *Connection) Ping() error {
	return c.ensureConnection()
}

func (c *Connection) GetDB() *sql.DB {
	return c.db
}

func (c *Connection) BeginTransaction(ctx context.Context) (*Transaction, error) {
	if err := c.ensureConnection(); err != nil {
		return nil, fmt.Errorf("database connection check failed: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}
