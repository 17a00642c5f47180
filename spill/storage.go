package spill

import "errors"

// errBucketNotFound is returned by storageTx.DeleteBucket when the bucket doesn't exist.
var errBucketNotFound = errors.New("bucket not found")

// storage is a key-value backend holding one bucket per run.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	DeleteBucket(name string) error

	// ForEachBucket calls fn for every bucket in key order.
	ForEachBucket(fn func(name string) error) error

	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error
}

// storageBucket is a sorted key-value collection.
type storageBucket interface {
	// Get returns nil if not found.
	Get(key []byte) []byte
	Put(key, value []byte) error

	// NextSequence returns a new, monotonically increasing integer for the bucket.
	NextSequence() (uint64, error)

	Cursor() storageCursor
	KeyCount() int
}

type storageCursor interface {
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	Next() (key, value []byte)
}
