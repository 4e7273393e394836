package game

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

const (
	EventBufferSize     = 1024                   // Circular buffer size
	MaxEventsPerSec     = 10000                  // Global rate limit
	MaxEventsPerAgent   = 100                    // Per-agent rate limit per second
	BatchFlushSize      = 64                     // Events per batch write
	BatchFlushInterval  = 100 * time.Millisecond // How often to flush
	AgentLimiterCleanup = 5 * time.Minute        // Cleanup interval for agent limiters
)

// EventLog is a bounded, rate-limited journal of simulation events written as
// newline-delimited JSON. A path ending in ".zst" is zstd-compressed.
//
// Emit never blocks the tick: when the ring is full the oldest event is
// dropped.
type EventLog struct {
	mu        sync.Mutex
	buffer    [EventBufferSize]Event
	writeHead uint64 // next sequence to assign
	readHead  uint64 // oldest unflushed sequence

	globalLimiter *rate.Limiter
	agentLimiters sync.Map // map[string]*agentLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	fileMu sync.Mutex
	file   *os.File
	enc    *zstd.Encoder
	out    *bufio.Writer

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

type agentLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// NewEventLog creates a new bounded event log
func NewEventLog() *EventLog {
	return &EventLog{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start opens filePath for append and begins the async writer. An empty path
// keeps events in memory only.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		if err := el.open(filePath); err != nil {
			return err
		}
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()

	return nil
}

func (el *EventLog) open(filePath string) error {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	var w io.Writer = file
	if strings.HasSuffix(filePath, ".zst") {
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("zstd writer: %w", err)
		}
		el.enc = enc
		w = enc
	}

	el.file = file
	el.out = bufio.NewWriterSize(w, 64*1024)
	return nil
}

// Stop flushes pending events and closes the file.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		defer el.fileMu.Unlock()
		if el.out != nil {
			_ = el.out.Flush()
		}
		if el.enc != nil {
			_ = el.enc.Close()
		}
		if el.file != nil {
			_ = el.file.Close()
		}
	})
}

// Emit adds an event with rate limiting.
// Returns false if the log is stopped or the event was rate limited.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	if event.AgentID != "" && !el.getAgentLimiter(event.AgentID).Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	el.mu.Lock()
	if el.writeHead-el.readHead >= EventBufferSize {
		el.readHead++
		atomic.AddUint64(&el.droppedCount, 1)
	}
	el.writeHead++
	event.Sequence = el.writeHead
	el.buffer[el.writeHead%EventBufferSize] = event
	el.mu.Unlock()

	atomic.AddUint64(&el.totalCount, 1)
	return true
}

// EmitSimple is a convenience method to emit an event with automatic creation
func (el *EventLog) EmitSimple(eventType EventType, tickNum uint64, agentID string, payload interface{}) bool {
	if !el.running.Load() {
		return false
	}
	return el.Emit(NewEvent(eventType, tickNum, agentID, payload))
}

func (el *EventLog) getAgentLimiter(agentID string) *rate.Limiter {
	if v, ok := el.agentLimiters.Load(agentID); ok {
		entry := v.(*agentLimiterEntry)
		entry.lastUsed.Store(time.Now().UnixNano())
		return entry.limiter
	}

	entry := &agentLimiterEntry{limiter: rate.NewLimiter(MaxEventsPerAgent, MaxEventsPerAgent/10)}
	entry.lastUsed.Store(time.Now().UnixNano())
	actual, _ := el.agentLimiters.LoadOrStore(agentID, entry)
	return actual.(*agentLimiterEntry).limiter
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)

	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}

		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

// cleanupLoop removes stale agent limiters
func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(AgentLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-AgentLimiterCleanup).UnixNano()
			el.agentLimiters.Range(func(key, value interface{}) bool {
				if value.(*agentLimiterEntry).lastUsed.Load() < cutoff {
					el.agentLimiters.Delete(key)
				}
				return true
			})
		}
	}
}

// collectBatch moves up to BatchFlushSize events out of the ring
func (el *EventLog) collectBatch(batch []Event) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	for el.readHead < el.writeHead && len(batch) < BatchFlushSize {
		el.readHead++
		batch = append(batch, el.buffer[el.readHead%EventBufferSize])
	}
	return batch
}

// flushBatch writes events (append-only, newline-delimited JSON)
func (el *EventLog) flushBatch(batch []Event) {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.out == nil {
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.out.Write(data)
		el.out.WriteByte('\n')
	}
	el.out.Flush()
	if el.enc != nil {
		el.enc.Flush()
	}
}

// GetStats returns journal metrics for monitoring
func (el *EventLog) GetStats() map[string]interface{} {
	el.mu.Lock()
	pending := el.writeHead - el.readHead
	el.mu.Unlock()

	return map[string]interface{}{
		"total":   atomic.LoadUint64(&el.totalCount),
		"dropped": atomic.LoadUint64(&el.droppedCount),
		"pending": pending,
		"running": el.running.Load(),
	}
}

// GetDroppedCount returns the number of dropped events
func (el *EventLog) GetDroppedCount() uint64 {
	return atomic.LoadUint64(&el.droppedCount)
}

// GetTotalCount returns the total number of events accepted
func (el *EventLog) GetTotalCount() uint64 {
	return atomic.LoadUint64(&el.totalCount)
}
