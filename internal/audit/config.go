package audit

import (
	"fmt"
	"time"
)

// Config controls segment rotation and buffering for the append-only
// audit log.
type Config struct {
	Dir                string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FilePrefix         string
	FlushInterval      time.Duration
	SyncInterval       time.Duration
}

const (
	defaultSegmentMaxBytes    = 256 << 20
	defaultSegmentMaxDuration = 10 * time.Minute
	defaultQueueSize          = 4096
	defaultBufferSize         = 128 * 1024
	defaultFilePrefix         = "audit"
	defaultFlushInterval      = 50 * time.Millisecond
	defaultSyncInterval       = time.Second
)

// DefaultConfig returns a Config with production defaults rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
		FlushInterval:      defaultFlushInterval,
		SyncInterval:       defaultSyncInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.SegmentMaxDuration <= 0 {
		c.SegmentMaxDuration = defaultSegmentMaxDuration
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}
	return c
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("audit: dir is required")
	}
	return nil
}
