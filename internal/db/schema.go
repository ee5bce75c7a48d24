package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

// Keyspace holding every PPgram table.
const Keyspace = "ksp"

const createKeyspace = `CREATE KEYSPACE IF NOT EXISTS ksp
	WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`

// SchemaDDL is applied statement by statement at startup and printed by the
// schema CLI subcommand. All statements are idempotent.
var SchemaDDL = []string{
	createKeyspace,
	`CREATE TABLE IF NOT EXISTS ksp.users (
		id int PRIMARY KEY,
		name text,
		username text,
		password_hash text,
		photo_hash text,
		sessions set<text>,
		chats map<int, int>
	)`,
	`CREATE INDEX IF NOT EXISTS users_username_idx ON ksp.users (username)`,
	`CREATE TABLE IF NOT EXISTS ksp.chats (
		id int PRIMARY KEY,
		is_group boolean,
		participants list<int>,
		name text,
		avatar_hash text,
		tag text,
		invitation_hash text
	)`,
	`CREATE INDEX IF NOT EXISTS chats_invitation_idx ON ksp.chats (invitation_hash)`,
	`CREATE TABLE IF NOT EXISTS ksp.messages (
		chat_id int,
		id int,
		from_id int,
		date bigint,
		is_unread boolean,
		reply_to int,
		content text,
		sha256_hashes list<text>,
		edited boolean,
		PRIMARY KEY (chat_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS ksp.drafts (
		user_id int,
		chat_id int,
		content text,
		PRIMARY KEY (user_id, chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ksp.hashes (
		hash text PRIMARY KEY,
		is_media boolean,
		file_name text,
		file_path text,
		preview_path text
	)`,
}

// Config selects the cluster contact point and pool behavior.
type Config struct {
	Host       string
	Port       int
	MaxBuckets int
	Reclaim    time.Duration
}

func newCluster(cfg Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Host)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	return cluster
}

// Open bootstraps the schema (retrying until the cluster answers or ctx is
// done) and returns a pool whose buckets connect to the ksp keyspace.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Pool, error) {
	if err := bootstrapSchema(ctx, cfg, log); err != nil {
		return nil, err
	}
	connect := func(ctx context.Context) (*gocql.Session, error) {
		cluster := newCluster(cfg)
		cluster.Keyspace = Keyspace
		return cluster.CreateSession()
	}
	return NewPool(ctx, connect, Options{
		Log:        log,
		Reclaim:    cfg.Reclaim,
		MaxBuckets: cfg.MaxBuckets,
	})
}

func bootstrapSchema(ctx context.Context, cfg Config, log zerolog.Logger) error {
	backoff := time.Second
	for {
		err := applySchema(ctx, cfg)
		if err == nil {
			log.Info().Str("keyspace", Keyspace).Msg("schema ready")
			return nil
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("schema bootstrap failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 16*time.Second {
			backoff *= 2
		}
	}
}

func applySchema(ctx context.Context, cfg Config) error {
	// Keyspace-less session: ksp may not exist yet.
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	for _, ddl := range SchemaDDL {
		if err := session.Query(ddl).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
