package llm

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// OpenAuditLog opens the append-only call log. The returned closer must be
// closed on shutdown.
func OpenAuditLog(path string) (*log.Logger, io.Closer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	return log.New(f, "", log.LstdFlags), f, nil
}
