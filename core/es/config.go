package es

import (
	"errors"
	"fmt"
)

const (
	DefaultSnapshotFrequency = 100
	DefaultSnapshotRetention = 3
)

// Config configures a [Repository].
type Config struct {
	// TableName is the table holding event and snapshot rows. Required.
	TableName string
	// EncryptionKey is the default secret for sensitive fields. A key passed
	// to a single call with WithEncryptionKey takes precedence.
	EncryptionKey string
	Snapshot      SnapshotConfig
	// Debug enables debug logging when no logger is supplied.
	Debug bool
}

type SnapshotConfig struct {
	Enabled bool
	// Frequency is the event count between automatic snapshots.
	Frequency int
	// Retention is the number of snapshots kept per aggregate.
	Retention int
	// AutoSnapshot defaults to true when nil.
	AutoSnapshot *bool
	Serializer   SnapshotSerializer
	// SchemaVersion is stamped on new snapshots. When set, snapshots carrying
	// a different schema version are ignored on read.
	SchemaVersion int
}

func (c SnapshotConfig) auto() bool { return c.AutoSnapshot == nil || *c.AutoSnapshot }

func (c Config) withDefaults() Config {
	if c.Snapshot.Frequency == 0 {
		c.Snapshot.Frequency = DefaultSnapshotFrequency
	}
	if c.Snapshot.Retention == 0 {
		c.Snapshot.Retention = DefaultSnapshotRetention
	}
	if c.Snapshot.Serializer == nil {
		c.Snapshot.Serializer = DefaultSerializer{}
	}
	return c
}

func (c Config) Validate() error {
	var errs []error
	if c.TableName == "" {
		errs = append(errs, ErrTableNameRequired)
	}
	if c.Snapshot.Frequency < 0 {
		errs = append(errs, fmt.Errorf("snapshot frequency must not be negative, got %d", c.Snapshot.Frequency))
	}
	if c.Snapshot.Retention < 0 {
		errs = append(errs, fmt.Errorf("snapshot retention must not be negative, got %d", c.Snapshot.Retention))
	}
	if c.Snapshot.SchemaVersion < 0 {
		errs = append(errs, fmt.Errorf("snapshot schema version must not be negative, got %d", c.Snapshot.SchemaVersion))
	}
	return errors.Join(errs...)
}

// Bool returns a pointer to v, for SnapshotConfig.AutoSnapshot.
func Bool(v bool) *bool { return &v }
