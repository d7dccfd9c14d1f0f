package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

// BoltBlobStore keeps each blob in its own nested bucket, one key per part.
// Keys are big-endian part numbers so a cursor walks them in upload order.
type BoltBlobStore struct{ db *bolt.DB }

var bucketBlobs = []byte("blobs")

func OpenBoltBlobStore(path string) (*BoltBlobStore, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketBlobs)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBlobStore{db: db}, nil
}

func (b *BoltBlobStore) Close() error { return b.db.Close() }

func partKey(part int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(part))
	return buf
}

func (b *BoltBlobStore) Append(_ context.Context, id string, part int, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBlobs)
		if root == nil {
			return bolt.ErrBucketNotFound
		}
		bk, err := root.CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		return bk.Put(partKey(part), data)
	})
}

func (b *BoltBlobStore) Read(_ context.Context, id string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBlobs)
		if root == nil {
			return bolt.ErrBucketNotFound
		}
		bk := root.Bucket([]byte(id))
		if bk == nil {
			return ErrBlobNotFound
		}
		out = []byte{}
		// values are only valid inside the transaction
		return bk.ForEach(func(_, v []byte) error {
			out = append(out, v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltBlobStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBlobs)
		if root == nil {
			return bolt.ErrBucketNotFound
		}
		err := root.DeleteBucket([]byte(id))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (b *BoltBlobStore) Ping(context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBlobs) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}
