package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var bucketFrames = []byte("frames")

// Journal implements FrameLog using BoltDB. Keys are big-endian sequence
// numbers so cursor order is arrival order.
type Journal struct {
	db        *bolt.DB
	maxFrames int
	logger    *slog.Logger
	now       func() time.Time
}

// OpenJournal opens or creates a journal. maxFrames > 0 bounds its size:
// once exceeded by a tenth, the oldest frames are trimmed on append.
func OpenJournal(path string, maxFrames int, logger *slog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFrames)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Journal{
		db:        db,
		maxFrames: maxFrames,
		logger:    logger.With("component", "journal"),
		now:       time.Now,
	}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (j *Journal) Append(text string) (uint64, error) {
	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFrames)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketFrames)
		}
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Frame{Seq: seq, At: j.now().UTC(), Text: text})
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}
		if j.maxFrames > 0 {
			if n := b.Stats().KeyN; n > j.maxFrames+j.maxFrames/10 {
				_, err = trimBucket(b, n, j.maxFrames)
			}
		}
		return err
	})
	return seq, err
}

// HandleMessage journals every frame received on the connection.
func (j *Journal) HandleMessage(frame string) {
	if _, err := j.Append(frame); err != nil {
		j.logger.Error("journal frame", "err", err)
	}
}

func (j *Journal) Get(seq uint64) (*Frame, error) {
	var f Frame
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFrames)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketFrames)
		}
		data := b.Get(itob(seq))
		if data == nil {
			return fmt.Errorf("frame %d: %w", seq, ErrNotFound)
		}
		return json.Unmarshal(data, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (j *Journal) Each(fn func(Frame) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFrames)
		if b == nil {
			return nil // no bucket = no frames
		}
		return b.ForEach(func(k, v []byte) error {
			var f Frame
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("frame %d: %w", binary.BigEndian.Uint64(k), err)
			}
			return fn(f)
		})
	})
}

func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFrames)
		if b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func (j *Journal) Trim(keep int) (int, error) {
	var deleted int
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFrames)
		if b == nil {
			return nil
		}
		var err error
		deleted, err = trimBucket(b, b.Stats().KeyN, keep)
		return err
	})
	return deleted, err
}

// trimBucket deletes the oldest n-keep keys.
func trimBucket(b *bolt.Bucket, n, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	excess := n - keep
	if excess <= 0 {
		return 0, nil
	}
	c := b.Cursor()
	deleted := 0
	for k, _ := c.First(); k != nil && deleted < excess; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
