package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// S3API is the subset of the S3 client used by S3PatternStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type cachedPatterns struct {
	patterns Patterns
	loadedAt time.Time
}

// S3PatternStore loads per-location popularity exports from S3 and memoizes them for ttl.
type S3PatternStore struct {
	client S3API
	bucket string
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]cachedPatterns
}

// NewS3PatternStore creates a store reading s3://bucket/prefix/<location>.json.
func NewS3PatternStore(client S3API, bucket, prefix string, ttl time.Duration, logger *logging.Logger) *S3PatternStore {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3PatternStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		cache:  make(map[string]cachedPatterns),
	}
}

func (s *S3PatternStore) key(location string) string {
	name := strings.ToLower(strings.TrimSpace(location)) + ".json"
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Popularity returns the cached export for location, reloading after ttl.
func (s *S3PatternStore) Popularity(ctx context.Context, location string) (Patterns, error) {
	s.mu.Lock()
	cached, ok := s.cache[location]
	s.mu.Unlock()
	if ok && s.now().Sub(cached.loadedAt) < s.ttl {
		return cached.patterns, nil
	}

	key := s.key(location)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: s3 get %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("analytics: read %s: %w", key, err)
	}
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("analytics: decode %s: %w", key, err)
	}
	patterns := FromExport(export)

	s.mu.Lock()
	s.cache[location] = cachedPatterns{patterns: patterns, loadedAt: s.now()}
	s.mu.Unlock()

	s.logger.Debug("analytics: loaded popularity patterns", "location", location, "entries", len(patterns))
	return patterns, nil
}

// Publish writes patterns for location and refreshes the local cache.
func (s *S3PatternStore) Publish(ctx context.Context, location string, patterns Patterns) error {
	data, err := json.Marshal(patterns.ToExport(s.now().UTC()))
	if err != nil {
		return fmt.Errorf("analytics: marshal patterns: %w", err)
	}
	key := s.key(location)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("analytics: s3 put %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[location] = cachedPatterns{patterns: patterns, loadedAt: s.now()}
	s.mu.Unlock()
	return nil
}

var _ Provider = (*S3PatternStore)(nil)
