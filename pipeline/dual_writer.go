package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-auction-tables/models"
)

// DualWriter outputs the .dat tables and their JSONL counterparts.
type DualWriter struct {
	datWriter  *DatWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter creates a writer producing both formats in dir.
func NewDualWriter(dir string) (*DualWriter, error) {
	datWriter, err := NewDatWriter(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create dat writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON writer: %w", err)
	}

	return &DualWriter{
		datWriter:  datWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes store in both formats.
func (dw *DualWriter) Write(store *Store) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.datWriter.Write(store); err != nil {
		return fmt.Errorf("dat write failed: %w", err)
	}

	if err := dw.jsonWriter.Write(store); err != nil {
		return fmt.Errorf("JSON write failed: %w", err)
	}

	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error

	if err := dw.datWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("dat close failed: %w", err))
	}

	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("JSON close failed: %w", err))
	}

	return errors.Join(errs...)
}

// Validate validates both sets of output files.
func (dw *DualWriter) Validate() error {
	var errs []error

	if err := dw.datWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dat validation failed: %w", err))
	}

	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("JSON validation failed: %w", err))
	}

	return errors.Join(errs...)
}

// Digests reports the .dat digests, which identify the table contents.
func (dw *DualWriter) Digests() map[models.Table]uint64 {
	return dw.datWriter.Digests()
}
