package logger

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	defaultBufferSize    = 32 * 1024
	defaultFlushInterval = time.Second
	logFilePermissions   = 0o600
)

// BufferedFileWriter is a mutex-guarded buffered writer that flushes periodically.
type BufferedFileWriter struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewBufferedFileWriter opens filePath for appending and starts the periodic flusher.
func NewBufferedFileWriter(filePath string) (*BufferedFileWriter, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}

	w := &BufferedFileWriter{
		file: file,
		buf:  bufio.NewWriterSize(file, defaultBufferSize),
		done: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.autoFlushLoop()

	return w, nil
}

func (w *BufferedFileWriter) autoFlushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = w.Flush()
		case <-w.done:
			return
		}
	}
}

// Write implements io.Writer
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

// Flush writes buffered data to the OS.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.buf.Flush()
}

// Close stops the flusher, flushes, syncs and closes the file.
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	flushErr := w.buf.Flush()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.mu.Unlock()

	w.wg.Wait()

	switch {
	case flushErr != nil:
		return flushErr
	case syncErr != nil:
		return syncErr
	default:
		return closeErr
	}
}
