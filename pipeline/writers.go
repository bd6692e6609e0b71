package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-auction-tables/models"
)

// OutputWriter defines the interface for table output.
type OutputWriter interface {
	Write(store *Store) error
	Close() error
	Validate() error
	Digests() map[models.Table]uint64
}

// tableFiles tracks what was written per table so it can be validated.
type tableFiles struct {
	dir  string
	name func(models.Table) string

	mu      sync.Mutex
	written map[models.Table]tableRecord
}

// tableRecord is what one table write produced: rows emitted against rows
// held by the store, and the bytes and digest of the file body.
type tableRecord struct {
	rows   int
	want   int
	bytes  int64
	digest uint64
}

// countingWriter counts bytes passed through to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func newTableFiles(dir string, name func(models.Table) string) (*tableFiles, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &tableFiles{
		dir:     dir,
		name:    name,
		written: make(map[models.Table]tableRecord),
	}, nil
}

func (tf *tableFiles) path(t models.Table) string {
	return filepath.Join(tf.dir, tf.name(t))
}

// write renders every table of store concurrently; fill emits the rows of
// one table and returns how many it wrote.
func (tf *tableFiles) write(store *Store, fill func(t models.Table, w io.Writer) (int, error)) error {
	var g errgroup.Group
	for _, t := range models.Tables {
		g.Go(func() error {
			return tf.writeTable(t, store.Len(t), fill)
		})
	}
	return g.Wait()
}

func (tf *tableFiles) writeTable(t models.Table, want int, fill func(models.Table, io.Writer) (int, error)) error {
	path := tf.path(t)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	buffer := bufio.NewWriter(f)
	digest := xxhash.New()
	counter := &countingWriter{w: io.MultiWriter(buffer, digest)}
	rows, err := fill(t, counter)
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := buffer.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	tf.mu.Lock()
	tf.written[t] = tableRecord{rows: rows, want: want, bytes: counter.n, digest: digest.Sum64()}
	tf.mu.Unlock()
	return nil
}

// validate checks every table emitted one row per stored entity and that
// each file on disk has the size that was written. Rows are not re-counted
// from the file: free-text fields may hold raw newlines.
func (tf *tableFiles) validate() error {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	for _, t := range models.Tables {
		rec, ok := tf.written[t]
		if !ok {
			return fmt.Errorf("%s was not written", tf.name(t))
		}
		if rec.rows != rec.want {
			return fmt.Errorf("%s has %d rows, want %d", tf.name(t), rec.rows, rec.want)
		}
		info, err := os.Stat(tf.path(t))
		if err != nil {
			return fmt.Errorf("stat %s: %w", tf.name(t), err)
		}
		if info.Size() != rec.bytes {
			return fmt.Errorf("%s is %d bytes, want %d", tf.name(t), info.Size(), rec.bytes)
		}
	}
	return nil
}

func (tf *tableFiles) digestSnapshot() map[models.Table]uint64 {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	out := make(map[models.Table]uint64, len(tf.written))
	for t, rec := range tf.written {
		out[t] = rec.digest
	}
	return out
}

// DatWriter writes the pipe-delimited Users.dat, Items.dat, Bids.dat and
// Categories.dat files.
type DatWriter struct {
	files *tableFiles
}

// NewDatWriter prepares a writer targeting dir.
func NewDatWriter(dir string) (*DatWriter, error) {
	files, err := newTableFiles(dir, models.Table.DatFile)
	if err != nil {
		return nil, err
	}
	return &DatWriter{files: files}, nil
}

// Write serializes all four tables from store.
func (dw *DatWriter) Write(store *Store) error {
	return dw.files.write(store, func(t models.Table, w io.Writer) (int, error) {
		lines, err := store.Serialize(t)
		if err != nil {
			return 0, err
		}
		for _, line := range lines {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return 0, err
			}
		}
		return len(lines), nil
	})
}

// Close is a no-op; files are closed as soon as each table is written.
func (dw *DatWriter) Close() error {
	return nil
}

// Validate ensures each table emitted every stored row and its file is
// intact.
func (dw *DatWriter) Validate() error {
	return dw.files.validate()
}

// Digests returns the xxhash64 of each written table file.
func (dw *DatWriter) Digests() map[models.Table]uint64 {
	return dw.files.digestSnapshot()
}

// JSONWriter writes one newline-delimited JSON file per table.
type JSONWriter struct {
	files *tableFiles
}

// NewJSONWriter prepares a writer targeting dir.
func NewJSONWriter(dir string) (*JSONWriter, error) {
	files, err := newTableFiles(dir, models.Table.JSONFile)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{files: files}, nil
}

// Write encodes all four tables from store in JSONL format.
func (jw *JSONWriter) Write(store *Store) error {
	return jw.files.write(store, func(t models.Table, w io.Writer) (int, error) {
		records, err := store.Records(t)
		if err != nil {
			return 0, err
		}
		encoder := json.NewEncoder(w)
		for _, record := range records {
			if err := encoder.Encode(record); err != nil {
				return 0, fmt.Errorf("encode json record: %w", err)
			}
		}
		return len(records), nil
	})
}

// Close is a no-op; files are closed as soon as each table is written.
func (jw *JSONWriter) Close() error {
	return nil
}

// Validate ensures each JSONL file holds one record per stored entity.
func (jw *JSONWriter) Validate() error {
	return jw.files.validate()
}

// Digests returns the xxhash64 of each written table file.
func (jw *JSONWriter) Digests() map[models.Table]uint64 {
	return jw.files.digestSnapshot()
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
