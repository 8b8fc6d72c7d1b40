package main

import (
	"strings"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTokens   = []byte("tokens")
	bucketVersions = []byte("versions")
)

// serverStore remembers per-server access tokens and the last server
// version we saw, so reconnecting to a known server picks its tokens
// back up without flags.
type serverStore struct {
	db *bolt.DB
}

func openServerStore(path string) (*serverStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err2 := tx.CreateBucketIfNotExists(bucketTokens); err2 != nil {
			return err2
		}
		_, err2 := tx.CreateBucketIfNotExists(bucketVersions)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &serverStore{db: db}, nil
}

func (s *serverStore) Close() error {
	return s.db.Close()
}

func (s *serverStore) Tokens(server string) []string {
	var tokens []string
	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketTokens).Get([]byte(server)); len(v) > 0 {
			tokens = strings.Split(string(v), "\n")
		}
		return nil
	})
	return tokens
}

func (s *serverStore) SaveTokens(server string, tokens []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Put([]byte(server), []byte(strings.Join(tokens, "\n")))
	})
}

func (s *serverStore) LastVersion(server string) string {
	var version string
	_ = s.db.View(func(tx *bolt.Tx) error {
		version = string(tx.Bucket(bucketVersions).Get([]byte(server)))
		return nil
	})
	return version
}

func (s *serverStore) SaveVersion(server, version string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).Put([]byte(server), []byte(version))
	})
}
