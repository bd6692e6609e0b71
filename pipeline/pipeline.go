package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-auction-tables/config"
	"github.com/aluiziolira/go-auction-tables/models"
	"github.com/aluiziolira/go-auction-tables/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 5 * time.Minute

// Pipeline decodes source documents on a worker pool and merges the
// extracted entities into a Store. The first extraction error stops it.
type Pipeline struct {
	ctx       context.Context
	store     *Store
	extractor *parser.Extractor
	docCh     chan *models.Document

	wg sync.WaitGroup

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline feeding store.
func NewPipeline(ctx context.Context, store *Store, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 1
	}
	return &Pipeline{
		ctx:       ctx,
		store:     store,
		extractor: parser.NewExtractor(cfg.TimestampCacheSize),
		docCh:     make(chan *models.Document, buffer),
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues documents for extraction.
func (p *Pipeline) Process(docs ...*models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if err := p.enqueue(doc); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to drain and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.docCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return ErrPipelineCloseTimeout
	}

	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("documents", metrics["processed_documents"].(int64)),
					slog.Int64("items", metrics["processed_items"].(int64)),
					slog.Int("users", p.store.Len(models.TableUsers)),
					slog.Int("bids", p.store.Len(models.TableBids)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for doc := range p.docCh {
		if err := p.prepare(doc); err != nil {
			p.metrics.addFailure(parser.ErrorKind(err))
			p.setErr(fmt.Errorf("process %s: %w", doc.Source, err))
			return
		}
	}
}

func (p *Pipeline) prepare(doc *models.Document) error {
	records, err := parser.ParseDocument(doc.Body)
	if err != nil {
		return err
	}

	for i, record := range records {
		batch, err := p.extractor.Extract(record)
		if err != nil {
			return err
		}
		batch.Seq, batch.Record = doc.Seq, i
		p.store.Merge(batch)
		p.metrics.incrementItems()
	}

	p.metrics.incrementDocuments()
	slog.Info("parsed source", slog.String("source", doc.Source), slog.Int("items", len(records)))
	return nil
}

func (p *Pipeline) enqueue(doc *models.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.docCh <- doc:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.docCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	documents int64
	items     int64
	failures  map[string]int
}

func newMetrics() metrics {
	return metrics{
		failures: make(map[string]int),
	}
}

func (m *metrics) incrementDocuments() {
	m.mu.Lock()
	m.documents++
	m.mu.Unlock()
}

func (m *metrics) incrementItems() {
	m.mu.Lock()
	m.items++
	m.mu.Unlock()
}

func (m *metrics) addFailure(kind string) {
	m.mu.Lock()
	m.failures[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyFailures := make(map[string]int, len(m.failures))
	for k, v := range m.failures {
		copyFailures[k] = v
	}

	return map[string]interface{}{
		"processed_documents": m.documents,
		"processed_items":     m.items,
		"extraction_errors":   copyFailures,
	}
}
