package db

import (
	"errors"

	"github.com/gocql/gocql"
)

// Gateway sentinel errors. Handlers translate these into the client-visible
// protocol taxonomy; everything else is an internal storage fault.
var (
	ErrNotFound         = errors.New("row not found")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrWrongCredentials = errors.New("credentials do not match")
)

// DB exposes the typed gateways over one acquired bucket. Connections build
// one after Acquire and use it for every operation they dispatch; gateways
// are cheap per-call values sharing the bucket's session.
type DB struct {
	bucket *Bucket
}

func For(bucket *Bucket) *DB {
	return &DB{bucket: bucket}
}

func (d *DB) Users() *Users { return &Users{cql: d.bucket.cql} }

func (d *DB) Chats() *Chats { return &Chats{cql: d.bucket.cql} }

func (d *DB) Messages() *Messages {
	return &Messages{cql: d.bucket.cql, locks: &d.bucket.pool.locks}
}

func (d *DB) Drafts() *Drafts { return &Drafts{cql: d.bucket.cql} }

func (d *DB) Hashes() *Hashes { return &Hashes{cql: d.bucket.cql} }

// notFound normalizes gocql's empty-result error.
func notFound(err error) bool {
	return errors.Is(err, gocql.ErrNotFound)
}
