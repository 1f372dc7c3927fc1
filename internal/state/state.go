package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.pychat-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket     = []byte("app")
	sessionIDKey  = []byte("session_id")
	connectionKey = []byte("connection")
)

func hostMetaBucket(host string) []byte {
	return []byte("host:" + host + ":meta")
}

func hostOutboxBucket(host string) []byte {
	return []byte("host:" + host + ":outbox")
}

// Connection is what the client remembers about its last connection to
// a server: the websocket id the server can restore, and the room the
// user had open.
type Connection struct {
	WsID         string `json:"wsId"`
	UserID       int64  `json:"userId"`
	ActiveRoomID int64  `json:"activeRoomId"`
}

// OutboxEntry tracks a file picked up from the outbox directory so it is
// not sent twice. Size and MTime identify the version that was sent; a
// changed file is sent again. OriginID correlates the entry with the
// server echo that marks it Delivered.
type OutboxEntry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MTime    int64  `json:"mtime"`
	RoomID   int64  `json:"roomId"`
	OriginID int64  `json:"originId"`
	SentAt   int64  `json:"sentAt"`

	// Delivered is set once the server echoed the message back. Entries
	// that were never delivered are sent again after a restart.
	Delivered bool `json:"delivered"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.pychat-sync/state.db, creating it
// if it does not exist. The app bucket is created on open.
func Load() (*State, error) {
	return LoadAt(dbPath())
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// SessionID returns the cached session cookie, or empty string.
func (s *State) SessionID() string {
	var id string

	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		v := b.Get(sessionIDKey)
		if v != nil {
			id = string(v)
		}

		return nil
	})

	return id
}

// SetSessionID persists the session cookie.
func (s *State) SetSessionID(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(sessionIDKey, []byte(id))
	})
}

// GetConnection returns what is remembered about the last connection to
// host, or a zero Connection.
func (s *State) GetConnection(host string) (Connection, error) {
	var conn Connection
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(hostMetaBucket(host))
		if b == nil {
			return nil
		}

		v := b.Get(connectionKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &conn)
	})

	return conn, err
}

// SetConnection updates the remembered connection for host.
func (s *State) SetConnection(host string, conn Connection) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(hostMetaBucket(host))
		if err != nil {
			return err
		}

		data, err := json.Marshal(conn)
		if err != nil {
			return err
		}

		return b.Put(connectionKey, data)
	})
}

// InitHostBuckets ensures the outbox bucket exists for host. Call this
// once before using the outbox methods.
func (s *State) InitHostBuckets(host string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(hostOutboxBucket(host))
		return err
	})
}

// GetOutboxEntry returns the outbox entry for a path, or nil if not found.
func (s *State) GetOutboxEntry(host, path string) (*OutboxEntry, error) {
	var e *OutboxEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(hostOutboxBucket(host))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(path))
		if v == nil {
			return nil
		}

		e = &OutboxEntry{}

		return json.Unmarshal(v, e)
	})

	return e, err
}

// SetOutboxEntry persists an outbox entry.
func (s *State) SetOutboxEntry(host string, e OutboxEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(hostOutboxBucket(host))
		if b == nil {
			return fmt.Errorf("outbox bucket not initialized for host %s", host)
		}

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}

		return b.Put([]byte(e.Path), data)
	})
}

// DeleteOutboxEntry removes the outbox entry for a path.
func (s *State) DeleteOutboxEntry(host, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(hostOutboxBucket(host))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(path))
	})
}

// AllOutboxEntries returns every outbox entry for host.
func (s *State) AllOutboxEntries(host string) (map[string]OutboxEntry, error) {
	result := make(map[string]OutboxEntry)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(hostOutboxBucket(host))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var e OutboxEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			result[string(k)] = e

			return nil
		})
	})

	return result, err
}

func dbPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current directory
		// where the database (containing the session cookie) might end up
		// with wrong permissions or inside a source-controlled tree.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".pychat-sync", "state.db")
}
