// Package loader fetches auction listing documents from local files and
// remote URLs and hands them to the extraction pipeline.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-auction-tables/config"
	"github.com/aluiziolira/go-auction-tables/models"
	"github.com/aluiziolira/go-auction-tables/pipeline"
)

const (
	sourceKey = "source"
	seqKey    = "seq"
	startKey  = "start"
)

// Loader wraps the colly collector and retry logic used to read sources.
type Loader struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryManager
	Metrics   *Metrics

	requestCount  int64
	documentCount int64
	errorCount    int64

	mu            sync.Mutex
	failedSources []string
	errorsByType  map[string]int

	handlersOnce sync.Once
}

// NewLoader builds a loader configured from cfg. Local paths are served
// through a file:// transport so both kinds of source share one collector.
func NewLoader(cfg *config.Config) (*Loader, error) {
	collector := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(newTransport(cfg))

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure limits: %w", err)
	}

	l := &Loader{
		cfg:          cfg,
		collector:    collector,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	l.retry = newRetryManager(cfg, l.Metrics)
	return l, nil
}

func newTransport(cfg *config.Config) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return transport
}

// Run fetches every source and streams its body through the pipeline. It
// returns ErrSourcesFailed when any source could not be loaded; the caller
// must then discard the run.
func (l *Loader) Run(ctx context.Context, sources []string, p *pipeline.Pipeline) (*models.LoadResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.retry.SetContext(ctx)
	l.configureHandlers(p)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			l.retry.Stop()
		case <-done:
		}
	}()

	for seq, source := range sources {
		if ctx.Err() != nil {
			break
		}
		if err := l.visit(seq, source); err != nil {
			l.recordFailure(source, err)
		}
	}

	l.wait(ctx)
	l.retry.Stop()

	result := &models.LoadResult{
		Sources:       append([]string(nil), sources...),
		StartTime:     start,
		EndTime:       time.Now(),
		DocumentCount: int(atomic.LoadInt64(&l.documentCount)),
		ErrorCount:    int(atomic.LoadInt64(&l.errorCount)),
		FailedSources: l.snapshotFailedSources(),
		ErrorsByType:  l.snapshotErrors(),
		RetryCount:    l.retry.TotalRetries(),
		RequestCount:  int(atomic.LoadInt64(&l.requestCount)),
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(result.FailedSources) > 0 {
		return result, fmt.Errorf("%w: %s", ErrSourcesFailed, strings.Join(result.FailedSources, ", "))
	}
	return result, nil
}

// visit requests source; seq travels with the request so retries keep the
// source's position.
func (l *Loader) visit(seq int, source string) error {
	target, err := SourceURL(source)
	if err != nil {
		return err
	}
	reqCtx := colly.NewContext()
	reqCtx.Put(sourceKey, source)
	reqCtx.Put(seqKey, seq)
	return l.collector.Request(http.MethodGet, target, nil, reqCtx, nil)
}

// wait blocks until the collector is idle and no retry is still scheduled.
func (l *Loader) wait(ctx context.Context) {
	for {
		l.collector.Wait()
		if !l.retry.waitPending(ctx) {
			return
		}
	}
}

func (l *Loader) configureHandlers(p *pipeline.Pipeline) {
	l.handlersOnce.Do(func() {
		l.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put(startKey, time.Now())
			atomic.AddInt64(&l.requestCount, 1)
			l.Metrics.IncRequest(r.URL.Scheme)
			slog.Debug("fetching source", slog.String("url", r.URL.String()))
		})

		l.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny(startKey).(time.Time); ok {
				l.Metrics.ObserveDuration(time.Since(start))
			}

			source := sourceOf(r.Request)
			atomic.AddInt64(&l.documentCount, 1)
			l.Metrics.IncDocuments()

			seq, _ := r.Request.Ctx.GetAny(seqKey).(int)
			doc := &models.Document{Source: source, Seq: seq, Body: r.Body}
			if err := p.Process(doc); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
				slog.Error("pipeline process error", slog.String("source", source), slog.Any("error", err))
			}
		})

		l.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&l.errorCount, 1)

			var req *colly.Request
			statusCode := 0
			if r != nil {
				req = r.Request
				statusCode = r.StatusCode
			}
			source := sourceOf(req)
			classified := classifyError(source, err, statusCode)
			category := errorTypeLabel(classified)

			l.mu.Lock()
			l.errorsByType[category]++
			l.mu.Unlock()

			slog.Error("source error",
				slog.String("source", source),
				slog.String("category", category),
				slog.Any("error", err),
			)
			l.Metrics.IncError(category)

			var fe *FetchError
			if req != nil && isRemote(req.URL.String()) && errors.As(classified, &fe) && fe.Retryable() {
				if l.retry.Schedule(req.URL.String(), req.Retry) {
					return
				}
			}

			l.mu.Lock()
			l.failedSources = append(l.failedSources, source)
			l.mu.Unlock()
		})
	})
}

func (l *Loader) recordFailure(source string, err error) {
	atomic.AddInt64(&l.errorCount, 1)
	category := errorTypeLabel(err)
	slog.Error("source error", slog.String("source", source), slog.Any("error", err))
	l.Metrics.IncError(category)

	l.mu.Lock()
	l.errorsByType[category]++
	l.failedSources = append(l.failedSources, source)
	l.mu.Unlock()
}

func sourceOf(req *colly.Request) string {
	if req == nil {
		return ""
	}
	if req.Ctx != nil {
		if source := req.Ctx.Get(sourceKey); source != "" {
			return source
		}
	}
	if req.URL != nil {
		return req.URL.String()
	}
	return ""
}

func (l *Loader) snapshotFailedSources() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.failedSources))
	copy(out, l.failedSources)
	return out
}

func (l *Loader) snapshotErrors() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.errorsByType))
	for k, v := range l.errorsByType {
		out[k] = v
	}
	return out
}

type retryManager struct {
	cfg     *config.Config
	metrics *Metrics
	ctx     context.Context

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]*time.Timer
	totalRetries int
	stopped      bool

	fired chan struct{}
}

func newRetryManager(cfg *config.Config, metrics *Metrics) *retryManager {
	return &retryManager{
		cfg:      cfg,
		attempts: make(map[string]int),
		timers:   make(map[string]*time.Timer),
		metrics:  metrics,
		ctx:      context.Background(),
		fired:    make(chan struct{}, 1),
	}
}

// Schedule arranges for visit to run after a backoff delay. It reports false
// when the retry budget for key is spent or the manager is stopped.
func (rm *retryManager) Schedule(key string, visit func() error) bool {
	if rm.cfg.MaxRetries == 0 {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}

	attempt := rm.attempts[key]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[key] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()

	delay := rm.backoff(attempt)
	if timer, ok := rm.timers[key]; ok {
		timer.Stop()
	}
	rm.timers[key] = time.AfterFunc(delay, func() {
		rm.fireRetry(key, visit)
	})
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retryManager) fireRetry(key string, visit func() error) {
	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return
	}
	ctx := rm.ctx
	rm.mu.Unlock()

	if ctx.Err() == nil {
		if err := visit(); err != nil {
			slog.Debug("retry visit failed", slog.String("url", key), slog.Any("error", err))
		}
	}

	rm.mu.Lock()
	delete(rm.timers, key)
	rm.mu.Unlock()

	select {
	case rm.fired <- struct{}{}:
	default:
	}
}

func (rm *retryManager) pending() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.timers)
}

// waitPending blocks until a scheduled retry fires. It reports false when
// nothing is scheduled or ctx is done.
func (rm *retryManager) waitPending(ctx context.Context) bool {
	if rm.pending() == 0 {
		return false
	}
	select {
	case <-rm.fired:
		return true
	case <-ctx.Done():
		return false
	}
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for key, timer := range rm.timers {
		timer.Stop()
		delete(rm.timers, key)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
