package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	NodesBucket = []byte("nodes") // path -> original mode + deny time
	RootsBucket = []byte("roots") // path -> lock completion time
)

// ErrBusy is returned when another process holds the ledger open.
var ErrBusy = errors.New("ledger is in use by another process")

// Node is a denied filesystem entry.
type Node struct {
	Path   string
	Mode   fs.FileMode
	Denied time.Time
}

// Root is a protected folder whose tree is fully denied.
type Root struct {
	Path   string
	Locked time.Time
}

// Options configures Open.
type Options struct {
	ReadOnly bool
	Timeout  time.Duration
}

// Ledger is the BBolt-backed permission ledger.
type Ledger struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string, opts Options) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if !opts.ReadOnly {
		if err := ensureBuckets(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Ledger{db: db, now: time.Now}, nil
}

func ensureBuckets(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{NodesBucket, RootsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.db.Path() }

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func encodeNode(mode fs.FileMode, at time.Time) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[:4], uint32(mode))
	binary.BigEndian.PutUint64(buf[4:], uint64(at.UnixNano()))
	return buf
}

func decodeNode(path string, v []byte) (Node, error) {
	if len(v) != 12 {
		return Node{}, fmt.Errorf("corrupt ledger entry for %s", path)
	}
	return Node{
		Path:   path,
		Mode:   fs.FileMode(binary.BigEndian.Uint32(v[:4])),
		Denied: time.Unix(0, int64(binary.BigEndian.Uint64(v[4:]))),
	}, nil
}

func encodeTime(at time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	return buf
}

// MarkDenied records nodes with their original modes in one transaction.
// An existing entry keeps its mode: re-denying an already denied node must
// not record 000 as the original.
func (l *Ledger) MarkDenied(nodes ...Node) error {
	if len(nodes) == 0 {
		return nil
	}
	now := l.now()
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(NodesBucket)
		for _, n := range nodes {
			if bucket.Get([]byte(n.Path)) != nil {
				continue
			}
			if err := bucket.Put([]byte(n.Path), encodeNode(n.Mode.Perm(), now)); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkAllowed forgets paths.
func (l *Ledger) MarkAllowed(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(NodesBucket)
		for _, p := range paths {
			if err := bucket.Delete([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Lookup returns the entry for path, if any.
func (l *Ledger) Lookup(path string) (Node, bool, error) {
	var (
		node  Node
		found bool
	)
	err := l.db.View(func(tx *bolt.Tx) error {
		nodes := tx.Bucket(NodesBucket)
		if nodes == nil {
			return nil
		}
		v := nodes.Get([]byte(path))
		if v == nil {
			return nil
		}
		var err error
		node, err = decodeNode(path, v)
		found = err == nil
		return err
	})
	return node, found, err
}

// Nodes returns every denied node, sorted by path.
func (l *Ledger) Nodes() ([]Node, error) {
	var out []Node
	err := l.db.View(func(tx *bolt.Tx) error {
		nodes := tx.Bucket(NodesBucket)
		if nodes == nil {
			return nil
		}
		return nodes.ForEach(func(k, v []byte) error {
			node, err := decodeNode(string(k), v)
			if err != nil {
				return err
			}
			out = append(out, node)
			return nil
		})
	})
	return out, err
}

// MarkRoot records that the tree under path is fully denied.
func (l *Ledger) MarkRoot(path string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(RootsBucket).Put([]byte(path), encodeTime(l.now()))
	})
}

// ClearRoot forgets a locked root.
func (l *Ledger) ClearRoot(path string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(RootsBucket).Delete([]byte(path))
	})
}

// Roots returns every locked root, sorted by path.
func (l *Ledger) Roots() ([]Root, error) {
	var out []Root
	err := l.db.View(func(tx *bolt.Tx) error {
		roots := tx.Bucket(RootsBucket)
		if roots == nil {
			return nil
		}
		return roots.ForEach(func(k, v []byte) error {
			root := Root{Path: string(k)}
			if len(v) == 8 {
				root.Locked = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
			}
			out = append(out, root)
			return nil
		})
	})
	return out, err
}

// Compact creates a compacted copy of the database, removing unused space
// left behind by lock and unlock churn.
func (l *Ledger) Compact() error {
	srcPath := l.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact ledger: %w", err)
	}

	if err := bolt.Compact(dst, l.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy ledger: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact ledger: %w", err)
	}

	if err := l.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close ledger: %w", err)
	}

	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		l.db, _ = bolt.Open(srcPath, 0600, nil)
		os.Remove(tmpPath)
		return fmt.Errorf("failed to back up ledger: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		l.db, _ = bolt.Open(srcPath, 0600, nil)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	os.Remove(backupPath)

	l.db, err = bolt.Open(srcPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to reopen ledger: %w", err)
	}
	return nil
}
