// Package journal persists delivery outcomes to a lode dataset.
//
// Records are JSONL, Hive-partitioned by day, instance_id and record_kind.
// Visit records are written through a Buffer; a metrics record is written
// once when an engine closes. The query helpers read them back for the CLI.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/justapithecus/spotlight/metrics"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendS3     = "s3"
)

// Writer persists batches of records.
type Writer interface {
	Write(ctx context.Context, records []map[string]any) error
	Close() error
}

// S3Config selects an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket string
	Prefix string
	// Region is optional; the default AWS chain applies when empty.
	Region string
	// Endpoint overrides the AWS endpoint for R2, MinIO and similar.
	Endpoint     string
	UsePathStyle bool
}

// Validate checks required S3 fields.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" into its parts.
func ParseS3Path(path string) (bucket, prefix string) {
	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// Config selects a journal backend.
type Config struct {
	// Backend is memory, fs or s3. Empty means memory.
	Backend string
	// Dataset is the lode dataset ID. Empty means DefaultDataset.
	Dataset string
	// Path is the root directory of the fs backend.
	Path string
	S3   S3Config
}

// Journal is a lode dataset with the journal layout. It implements Writer
// and records write outcomes on its metrics collector.
type Journal struct {
	dataset lode.Dataset
	id      string
	metrics *metrics.Collector
}

// Open creates a Journal for cfg. m may be nil.
func Open(ctx context.Context, cfg Config, m *metrics.Collector) (*Journal, error) {
	id := cfg.Dataset
	if id == "" {
		id = DefaultDataset
	}
	switch cfg.Backend {
	case "", BackendMemory:
		return NewWithFactory(id, lode.NewMemoryFactory(), m)
	case BackendFS:
		if cfg.Path == "" {
			return nil, errors.New("fs journal requires a path")
		}
		return NewWithFactory(id, lode.NewFSFactory(cfg.Path), m)
	case BackendS3:
		factory, err := s3Factory(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return NewWithFactory(id, factory, m)
	default:
		return nil, fmt.Errorf("unknown journal backend %q (must be memory, fs or s3)", cfg.Backend)
	}
}

// NewWithFactory creates a Journal over an arbitrary lode store factory.
func NewWithFactory(dataset string, factory lode.StoreFactory, m *metrics.Collector) (*Journal, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrapInit(err, dataset)
	}
	return &Journal{dataset: ds, id: dataset, metrics: m}, nil
}

// s3Factory uses the AWS default credential chain.
func s3Factory(ctx context.Context, cfg S3Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		})
	}, nil
}

// Dataset exposes the underlying dataset for queries.
func (j *Journal) Dataset() lode.Dataset {
	return j.dataset
}

// Write stores records as one lode snapshot.
func (j *Journal) Write(ctx context.Context, records []map[string]any) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([]any, len(records))
	for i, r := range records {
		batch[i] = r
	}
	if _, err := j.dataset.Write(ctx, batch, lode.Metadata{}); err != nil {
		j.metrics.IncJournalWriteFailure()
		return wrapWrite(err, j.id)
	}
	j.metrics.IncJournalWriteSuccess()
	return nil
}

// Close is a no-op; lode datasets hold no resources.
func (j *Journal) Close() error {
	return nil
}

var _ Writer = (*Journal)(nil)
