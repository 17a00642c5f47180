package chunkfile

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/andreyvit/merger"
)

func keysSource(keys ...int) merger.Source {
	rows := make([]any, len(keys))
	for i, k := range keys {
		rows[i] = []any{k}
	}
	return merger.NewSingleSource(merger.SliceIterator(rows))
}

func keysOf(tuples []*merger.Tuple) []int {
	result := make([]int, len(tuples))
	for i, tt := range tuples {
		result[i] = int(tt.Field(0).(int64))
	}
	return result
}

func writeFile(t testing.TB, chunkSize int, keys ...int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.chunks")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("** Create failed: %v", err)
	}
	src := keysSource(keys...)
	defer src.Close()
	n, err := w.WriteSource(src, chunkSize)
	if err != nil {
		t.Fatalf("** WriteSource failed: %v", err)
	}
	if n != w.Chunks() {
		t.Errorf("** WriteSource = %d, Chunks() = %d", n, w.Chunks())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("** Close failed: %v", err)
	}
	return path
}

func readFile(t testing.TB, path string) ([]*merger.Tuple, error) {
	t.Helper()
	f, err := Open(path)
	if err != nil {
		t.Fatalf("** Open failed: %v", err)
	}
	defer f.Close()
	src := f.Source()
	defer src.Close()
	return merger.Collect(src, nil, merger.Unlimited)
}

func TestChunkFile(t *testing.T) {
	tests := []struct {
		chunkSize int
		keys      []int
	}{
		{3, []int{1, 2, 3, 4, 5, 6, 7}},
		{3, []int{1, 2, 3}},
		{100, []int{5}},
		{1, nil},
	}
	for _, test := range tests {
		path := writeFile(t, test.chunkSize, test.keys...)
		tuples, err := readFile(t, path)
		if err != nil {
			t.Fatalf("** reading %v failed: %v", test.keys, err)
		}
		if a := keysOf(tuples); !slices.Equal(a, test.keys) {
			t.Errorf("** read %v, wanted %v", a, test.keys)
		}
	}
}

func TestChunkFile_tuplesOutliveFile(t *testing.T) {
	path := writeFile(t, 2, 10, 20, 30)
	tuples, err := readFile(t, path)
	if err != nil {
		t.Fatalf("** read failed: %v", err)
	}
	if a, e := keysOf(tuples), []int{10, 20, 30}; !slices.Equal(a, e) {
		t.Errorf("** after Close got %v, wanted %v", a, e)
	}
}

func TestChunkFile_corrupt(t *testing.T) {
	path := writeFile(t, 2, 1, 2, 3, 4)
	orig, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(data []byte) []byte
	}{
		{"flipped byte", func(data []byte) []byte { data[3] ^= 0x01; return data }},
		{"flipped checksum", func(data []byte) []byte { data[len(data)-1] ^= 0x80; return data }},
		{"truncated", func(data []byte) []byte { return data[:len(data)-3] }},
		{"bad size", func(data []byte) []byte { return append(data, 0xff) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := os.WriteFile(path, test.mutate(slices.Clone(orig)), 0666); err != nil {
				t.Fatal(err)
			}
			_, err := readFile(t, path)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("** err = %v, wanted %v", err, ErrCorrupt)
			}
			if !errors.Is(err, merger.ErrProducer) {
				t.Errorf("** err = %v, wanted %v", err, merger.ErrProducer)
			}
		})
	}
}

func TestFile_closed(t *testing.T) {
	path := writeFile(t, 2, 1, 2, 3)
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	src := f.Source()
	defer src.Close()
	if err := f.Close(); err != nil {
		t.Fatalf("** Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("** second Close = %v", err)
	}
	if _, err := src.Next(nil); !errors.Is(err, merger.ErrProducer) {
		t.Errorf("** Next after Close = %v, wanted %v", err, merger.ErrProducer)
	}
}

func TestWriter_invalidChunkSize(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "x"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	src := keysSource(1)
	defer src.Close()
	if _, err := w.WriteSource(src, 0); err == nil {
		t.Errorf("** WriteSource with zero chunk size succeeded")
	}
}
