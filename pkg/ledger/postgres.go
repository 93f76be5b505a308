package ledger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// kvEntry is the gorm model backing generic key-value storage.
type kvEntry struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// swarmLock is the gorm model backing named locks with TTL. Session
// advisory locks don't expire on their own, so named locks are modeled
// as ordinary rows claimed with a single conditional UPDATE instead.
type swarmLock struct {
	Name      string `gorm:"primaryKey"`
	Owner     string
	ExpiresAt time.Time
}

// PostgresOption configures a PostgresStore connection, mirroring the
// Host/Port/User/Password/Database/SSLMode shape shared by the pack's
// other gorm+postgres consumers.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	ConnString string
	Config     *gorm.Config
}

func (o PostgresOption) dsn() string {
	if o.ConnString != "" {
		return o.ConnString
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, port, o.User, o.Password, o.Database, sslMode)
}

// PostgresStore is the production KVStore, backed by gorm.io/gorm and
// gorm.io/driver/postgres, matching the persistence stack shared by
// diligent-co-diligent-public and yanun0323-go-hft.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens a connection and migrates the kv_entries and
// swarm_locks tables.
func NewPostgresStore(opt PostgresOption) (*PostgresStore, error) {
	cfg := opt.Config
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	db, err := gorm.Open(postgres.Open(opt.dsn()), cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&kvEntry{}, &swarmLock{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// PostgresOptionFromEnv builds a PostgresOption from SWARM_DATABASE_URL
// (an explicit DSN, used when set) and the conventional PGHOST, PGUSER,
// PGPASSWORD, PGDATABASE and PGSSLMODE variables. PGPORT is not read; the
// port defaults to 5432.
func PostgresOptionFromEnv() PostgresOption {
	return PostgresOption{
		ConnString: os.Getenv("SWARM_DATABASE_URL"),
		Host:       os.Getenv("PGHOST"),
		User:       os.Getenv("PGUSER"),
		Password:   os.Getenv("PGPASSWORD"),
		Database:   os.Getenv("PGDATABASE"),
		SSLMode:    os.Getenv("PGSSLMODE"),
	}
}

func (p *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var row kvEntry
	err := p.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err != nil {
		if strings.Contains(err.Error(), "record not found") {
			return "", ErrNotFound
		}
		return "", err
	}
	return row.Value, nil
}

func (p *PostgresStore) Set(ctx context.Context, key, value string) error {
	row := kvEntry{Key: key, Value: value}
	return p.db.WithContext(ctx).Save(&row).Error
}

func (p *PostgresStore) CompareAndSet(ctx context.Context, key, oldValue, newValue string) error {
	if oldValue == "" {
		res := p.db.WithContext(ctx).Exec(
			`INSERT INTO kv_entries (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`,
			key, newValue,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCASConflict
		}
		return nil
	}

	res := p.db.WithContext(ctx).Exec(
		`UPDATE kv_entries SET value = ? WHERE key = ? AND value = ?`,
		newValue, key, oldValue,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCASConflict
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	return p.db.WithContext(ctx).Delete(&kvEntry{}, "key = ?", key).Error
}

func (p *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var rows []kvEntry
	if err := p.db.WithContext(ctx).Where("key LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out, nil
}

// Lock claims the named lock for ttl using a single conditional UPDATE:
// the row is claimable when unowned or when its previous holder's TTL
// has elapsed. A lock lost this way after acquisition (i.e. another
// caller wins the race after this one's TTL expired) must be logged as
// CRITICAL by the caller per spec.md §4.5.
func (p *PostgresStore) Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	owner := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	now := time.Now()
	expires := now.Add(ttl)

	if err := p.db.WithContext(ctx).Exec(
		`INSERT INTO swarm_locks (name, owner, expires_at) VALUES (?, '', ?) ON CONFLICT (name) DO NOTHING`,
		name, now,
	).Error; err != nil {
		return nil, false, err
	}

	res := p.db.WithContext(ctx).Exec(
		`UPDATE swarm_locks SET owner = ?, expires_at = ? WHERE name = ? AND (owner = '' OR expires_at < ?)`,
		owner, expires, name, now,
	)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		return p.db.WithContext(ctx).Exec(
			`UPDATE swarm_locks SET owner = '', expires_at = ? WHERE name = ? AND owner = ?`,
			time.Now(), name, owner,
		).Error
	}
	return unlock, true, nil
}
