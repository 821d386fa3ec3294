package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-recruiter/internal/logging"
)

// ErrQueueFull is returned when a request cannot be queued.
var ErrQueueFull = errors.New("llm queue full")

// ManagerConfig controls queue behaviour
type ManagerConfig struct {
	MaxConcurrent     int
	ReplyQueueSize    int
	ClassifyQueueSize int
}

// DefaultManagerConfig returns sensible defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrent:     4,
		ReplyQueueSize:    50,
		ClassifyQueueSize: 50,
	}
}

// Manager coordinates all calls to an HTTP generation backend: it bounds
// concurrency, serves replies before classifications, and feeds the breaker.
type Manager struct {
	replyQueue    chan *Request
	classifyQueue chan *Request

	semaphore chan struct{}

	breaker *CircuitBreaker
	http    *http.Client

	mu      sync.RWMutex
	metrics Metrics

	stopCh chan struct{}
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewManager starts the dispatcher. breaker may be nil.
func NewManager(cfg ManagerConfig, breaker *CircuitBreaker, logger *zap.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	m := &Manager{
		replyQueue:    make(chan *Request, cfg.ReplyQueueSize),
		classifyQueue: make(chan *Request, cfg.ClassifyQueueSize),
		semaphore:     make(chan struct{}, cfg.MaxConcurrent),
		breaker:       breaker,
		http:          &http.Client{Transport: &http.Transport{MaxIdleConns: 10}},
		metrics: Metrics{
			CurrentQueueDepth: map[Priority]int{PriorityReply: 0, PriorityClassify: 0},
		},
		stopCh: make(chan struct{}),
		logger: logging.OrNop(logger).Named("llm_queue"),
	}

	m.wg.Add(1)
	go m.dispatcher()

	m.logger.Info("[LLM Queue] Started", zap.Int("slots", cfg.MaxConcurrent))
	return m
}

// Submit adds a request to its queue without blocking.
func (m *Manager) Submit(req *Request) error {
	queue := m.classifyQueue
	if req.Priority == PriorityReply {
		queue = m.replyQueue
	}

	select {
	case queue <- req:
		m.mu.Lock()
		if req.Priority == PriorityReply {
			m.metrics.ReplyEnqueued++
		} else {
			m.metrics.ClassifyEnqueued++
		}
		m.mu.Unlock()
		return nil
	default:
		m.mu.Lock()
		if req.Priority == PriorityReply {
			m.metrics.ReplyDropped++
		} else {
			m.metrics.ClassifyDropped++
		}
		m.mu.Unlock()
		m.logger.Warn("[LLM Queue] queue full, dropping request",
			zap.String("priority", req.Priority.String()), zap.String("request_id", req.ID))
		return ErrQueueFull
	}
}

// dispatcher picks the next request, reply queue first.
func (m *Manager) dispatcher() {
	defer m.wg.Done()

	for {
		var req *Request

		select {
		case <-m.stopCh:
			return
		case req = <-m.replyQueue:
		case req = <-m.classifyQueue:
			// A reply may have arrived while we were picking; serve it first.
			select {
			case reply := <-m.replyQueue:
				m.requeue(req)
				req = reply
			default:
			}
		}

		select {
		case <-m.stopCh:
			req.ErrorCh <- errors.New("llm queue stopped")
			return
		case m.semaphore <- struct{}{}:
		}

		m.wg.Add(1)
		go m.processRequest(req)
	}
}

func (m *Manager) requeue(req *Request) {
	select {
	case m.classifyQueue <- req:
	default:
		req.ErrorCh <- ErrQueueFull
	}
}

func (m *Manager) processRequest(req *Request) {
	defer func() {
		<-m.semaphore
		m.wg.Done()

		m.mu.Lock()
		if req.Priority == PriorityReply {
			m.metrics.ReplyProcessed++
		} else {
			m.metrics.ClassifyProcessed++
		}
		m.mu.Unlock()
	}()

	start := time.Now()
	if err := req.Context.Err(); err != nil {
		req.ErrorCh <- err
		return
	}

	ctx := req.Context
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context, req.Timeout)
		defer cancel()
	}

	var resp *Response
	call := func() error {
		var err error
		resp, err = m.executeHTTPRequest(ctx, req)
		return err
	}
	var err error
	if m.breaker != nil {
		err = m.breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		m.logger.Warn("[LLM Queue] request failed",
			zap.String("request_id", req.ID), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		req.ErrorCh <- err
		return
	}

	m.logger.Debug("[LLM Queue] request completed",
		zap.String("request_id", req.ID), zap.Duration("elapsed", time.Since(start)))
	req.ResponseCh <- resp
}

// executeHTTPRequest posts the JSON payload. 5xx answers count as failures
// so the breaker sees an unhealthy backend.
func (m *Manager) executeHTTPRequest(ctx context.Context, req *Request) (*Response, error) {
	jsonData, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("backend returned status %d", httpResp.StatusCode)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// GetMetrics returns current queue statistics
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := m.metrics
	metrics.CurrentQueueDepth = map[Priority]int{
		PriorityReply:    len(m.replyQueue),
		PriorityClassify: len(m.classifyQueue),
	}
	return metrics
}

// Stop shuts the dispatcher down and waits for in-flight requests.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("[LLM Queue] Stopped")
}
