// Package spill stores runs of encoded tuple chunks so that a merge input
// can be set aside and replayed later through a buffer source.
//
// Every run is a bucket. Chunks are keyed by a big-endian sequence number,
// so they come back in the order they were appended. Every value is the
// chunk bytes followed by their little-endian xxhash64.
package spill

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andreyvit/merger"
	"github.com/cespare/xxhash/v2"
	"go.etcd.io/bbolt"
)

var (
	ErrCorruptChunk = errors.New("corrupt spilled chunk")
	ErrRunNotFound  = errors.New("run not found")
)

const checksumSize = 8

type Options struct {
	Logger    *slog.Logger
	IsTesting bool
}

type Store struct {
	st     storage
	logger *slog.Logger
}

// Open opens (creating if needed) a Bolt-backed store at path.
func Open(path string, opt Options) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("spill: %w", err)
	}
	return newStore(newBoltStorage(bdb), opt), nil
}

// OpenMemory returns a store that keeps everything in memory.
func OpenMemory(opt Options) *Store {
	return newStore(newMemStorage(), opt)
}

func newStore(st storage, opt Options) *Store {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{st: st, logger: logger}
}

func (s *Store) Close() error {
	return s.st.Close()
}

func (s *Store) write(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(true)
	if err != nil {
		return fmt.Errorf("spill: %w", err)
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("spill: commit: %w", err)
	}
	return nil
}

func (s *Store) read(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return fmt.Errorf("spill: %w", err)
	}
	defer tx.Rollback()
	return f(tx)
}

// Append adds an encoded chunk to the end of run, creating the run if
// needed.
func (s *Store) Append(run string, chunk []byte) error {
	if run == "" {
		return fmt.Errorf("spill: empty run name")
	}
	var seq uint64
	err := s.write(func(tx storageTx) error {
		b, err := tx.CreateBucket(run)
		if err != nil {
			return fmt.Errorf("spill: run %q: %w", run, err)
		}
		seq, err = b.NextSequence()
		if err != nil {
			return fmt.Errorf("spill: run %q: %w", run, err)
		}
		return b.Put(chunkKey(seq), sealChunk(chunk))
	})
	if err != nil {
		return err
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "spill: appended chunk", slog.String("run", run), slog.Uint64("seq", seq), slog.Int("size", len(chunk)))
	return nil
}

// Spill drains src into run, encoding at most chunkSize tuples per chunk.
// It returns the number of chunks written. src stays owned by the caller.
func (s *Store) Spill(run string, src merger.Source, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("spill: invalid chunk size %d", chunkSize)
	}
	var b merger.Buffer
	var chunks int
	for {
		b.Reset()
		n, err := merger.EncodeTo(&b, src, nil, chunkSize)
		if err != nil {
			return chunks, err
		}
		if n == 0 {
			break
		}
		if err := s.Append(run, b.Written()); err != nil {
			return chunks, err
		}
		chunks++
		if n < chunkSize {
			break
		}
	}
	return chunks, nil
}

// Runs returns the names of all runs in order.
func (s *Store) Runs() ([]string, error) {
	var runs []string
	err := s.read(func(tx storageTx) error {
		return tx.ForEachBucket(func(name string) error {
			runs = append(runs, name)
			return nil
		})
	})
	return runs, err
}

// ChunkCount returns the number of chunks stored in run.
func (s *Store) ChunkCount(run string) (int, error) {
	var n int
	err := s.read(func(tx storageTx) error {
		b := tx.Bucket(run)
		if b == nil {
			return fmt.Errorf("spill: %q: %w", run, ErrRunNotFound)
		}
		n = b.KeyCount()
		return nil
	})
	return n, err
}

// Drop deletes run with all its chunks.
func (s *Store) Drop(run string) error {
	err := s.write(func(tx storageTx) error {
		err := tx.DeleteBucket(run)
		if err == errBucketNotFound {
			return fmt.Errorf("spill: %q: %w", run, ErrRunNotFound)
		}
		return err
	})
	if err != nil {
		return err
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "spill: dropped run", slog.String("run", run))
	return nil
}

// Chunks returns a chunk producer replaying run from the beginning, for use
// with merger.NewBufferSource. Every pull reads one chunk in its own read
// transaction.
func (s *Store) Chunks(run string) *merger.Iterator {
	return merger.NewIterator(func(param, state any) ([]any, error) {
		seq := state.(uint64)
		var chunk []byte
		err := s.read(func(tx storageTx) error {
			b := tx.Bucket(run)
			if b == nil {
				return fmt.Errorf("spill: %q: %w", run, ErrRunNotFound)
			}
			k, v := b.Cursor().Seek(chunkKey(seq))
			if k == nil {
				return nil
			}
			seq = binary.BigEndian.Uint64(k)
			var err error
			chunk, err = openChunk(v)
			if err != nil {
				return fmt.Errorf("spill: %q chunk %d: %w", run, seq, err)
			}
			return nil
		})
		if err != nil || chunk == nil {
			return nil, err
		}
		return []any{seq + 1, merger.NewBuffer(chunk)}, nil
	}, run, uint64(0))
}

// Source returns a buffer source replaying run.
func (s *Store) Source(run string) *merger.BufferSource {
	return merger.NewBufferSource(s.Chunks(run))
}

func chunkKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func sealChunk(chunk []byte) []byte {
	v := make([]byte, len(chunk), len(chunk)+checksumSize)
	copy(v, chunk)
	return binary.LittleEndian.AppendUint64(v, xxhash.Sum64(chunk))
}

// openChunk verifies a stored value and returns a copy of its chunk.
func openChunk(v []byte) ([]byte, error) {
	if len(v) < checksumSize {
		return nil, ErrCorruptChunk
	}
	n := len(v) - checksumSize
	if xxhash.Sum64(v[:n]) != binary.LittleEndian.Uint64(v[n:]) {
		return nil, ErrCorruptChunk
	}
	chunk := make([]byte, n)
	copy(chunk, v)
	return chunk, nil
}
