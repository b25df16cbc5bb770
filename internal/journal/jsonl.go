// Package journal persists navigation events as JSON lines.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/navwatch/internal/events"
	"github.com/dgnsrekt/navwatch/internal/router"
	"gopkg.in/natefinch/lumberjack.v2"
)

const subDir = "navigation"

// Writer handles async writing of JSON lines to date-organized files.
type Writer struct {
	baseDir     string
	maxSizeMB   int
	writeCh     chan any
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex
	now         func() time.Time
	host        string
}

// NewWriter starts a writer rooted at baseDir.
func NewWriter(baseDir string, bufferSize, maxSizeMB int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	w := &Writer{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	if host, err := os.Hostname(); err == nil {
		w.host = host
	} else {
		slog.Warn("journal hostname unavailable", "error", err)
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Write queues a record for async writing. It never blocks.
func (w *Writer) Write(record any) error {
	select {
	case <-w.done:
		return fmt.Errorf("journal: writer is closed")
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("journal write buffer full, dropping record", "dir", w.baseDir)
		return fmt.Errorf("journal: buffer full")
	}
}

// Close stops the writer and flushes queued records.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-timeout:
			slog.Warn("journal close timeout, some records may be lost", "dir", w.baseDir)
			return
		default:
			return
		}
	}
}

func (w *Writer) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if date != w.currentDate || w.logger == nil {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "error", err, "date", date)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		if err := w.logger.Close(); err != nil {
			slog.Debug("journal close previous file failed", "error", err)
		}
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date, subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: create %s: %w", dir, err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("%d.jsonl", w.now().Unix()))
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("journal opened file", "file", filename)
	return nil
}

// Follow subscribes to broker before returning, so no event published after
// the call is missed, then writes every event to w until ctx is done. The
// returned channel closes once the subscription is released.
func Follow(ctx context.Context, broker *events.Broker, w *Writer) <-chan struct{} {
	id, ch := broker.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer broker.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := w.Write(w.record(evt)); err != nil {
					slog.Debug("journal event dropped", "kind", evt.Kind, "error", err)
				}
			}
		}
	}()
	return done
}

type record struct {
	router.Event
	Host string `json:"host,omitempty"`
}

func (w *Writer) record(evt router.Event) record {
	return record{Event: evt, Host: w.host}
}
