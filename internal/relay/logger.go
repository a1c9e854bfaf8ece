package relay

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// relayLog is the dedicated relay.log sink (spec.md §5's logging
// collaborator): every RelayLog call also goes to the main process log, so
// an operator can tail relay.log alone for relay-only noise, or grep the
// main log for everything interleaved with the rest of the process.
var relayLog struct {
	mu       sync.Mutex
	file     *os.File
	logger   *log.Logger
	initOnce sync.Once
	lines    atomic.Int64
}

// InitRelayLog opens <logDir>/relay.log for appending. Safe to call
// multiple times; only the first call takes effect.
func InitRelayLog(logDir string) {
	relayLog.initOnce.Do(func() {
		logPath := filepath.Join(logDir, "relay.log")

		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[relay] WARNING: could not open relay log file %s: %v (relay logs will only go to main log)", logPath, err)
			return
		}

		relayLog.file = f
		relayLog.logger = log.New(f, "", 0)
		log.Printf("[relay] relay log file initialized: %s", logPath)
	})
}

// RelayLog writes a message to both the main log and relay.log, if
// initialized. Format is the same as log.Printf.
func RelayLog(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Print(msg)
	relayLog.lines.Add(1)

	relayLog.mu.Lock()
	if relayLog.logger != nil {
		timestamp := time.Now().Format("2006/01/02 15:04:05")
		relayLog.logger.Printf("%s %s", timestamp, msg)
	}
	relayLog.mu.Unlock()
}

// RelayLogLines reports how many RelayLog calls have been made, for the
// admin status endpoint.
func RelayLogLines() int64 {
	return relayLog.lines.Load()
}

// CloseRelayLog closes the relay log file, if open.
func CloseRelayLog() {
	relayLog.mu.Lock()
	defer relayLog.mu.Unlock()
	if relayLog.file != nil {
		relayLog.file.Close()
		relayLog.file = nil
		relayLog.logger = nil
	}
}
