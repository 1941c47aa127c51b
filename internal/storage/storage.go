package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadscore/internal/config"
	"github.com/ignite/leadscore/internal/pkg/logger"
)

// maxCachedReports bounds the in-memory history kept per kind.
const maxCachedReports = 200

// Report kinds written by sweeps.
const (
	KindDecay         = "decay"
	KindDecayInactive = "decay_inactive"
	KindSync          = "sync"
)

// Report is the archived outcome of one bulk run.
type Report struct {
	ID          string          `json:"id" dynamodbav:"ID"`
	Kind        string          `json:"kind" dynamodbav:"Kind"`
	Trigger     string          `json:"trigger" dynamodbav:"Trigger"`
	StartedAt   time.Time       `json:"started_at" dynamodbav:"StartedAt"`
	FinishedAt  time.Time       `json:"finished_at" dynamodbav:"FinishedAt"`
	Scanned     int             `json:"scanned" dynamodbav:"Scanned"`
	Affected    int             `json:"affected" dynamodbav:"Affected"`
	Failed      int             `json:"failed" dynamodbav:"Failed"`
	Interrupted bool            `json:"interrupted" dynamodbav:"Interrupted"`
	Error       string          `json:"error,omitempty" dynamodbav:"Error,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty" dynamodbav:"-"`
}

// Duration is how long the run took.
func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Archive persists sweep reports.
type Archive interface {
	SaveReport(ctx context.Context, r *Report) error
	ListReports(ctx context.Context, kind string, limit int) ([]Report, error)
}

// Storage keeps recent reports in memory and persists them to local JSON
// files or to S3 with a DynamoDB index, depending on config.
type Storage struct {
	config config.StorageConfig
	mu     sync.RWMutex

	// AWS storage (optional)
	aws *AWSStorage

	reports map[string][]Report
}

// New creates a new Storage instance
func New(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	s := &Storage{
		config:  cfg,
		reports: make(map[string][]Report),
	}

	switch cfg.Type {
	case "aws":
		awsStorage, err := NewAWSStorage(ctx, cfg.DynamoDBTable, cfg.S3Bucket, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage: %w", err)
		}
		s.aws = awsStorage
	case "local":
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		if err := s.loadFromDisk(); err != nil {
			logger.Warn("could not load stored reports", "path", cfg.LocalPath, "error", err)
		}
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	return s, nil
}

// SaveReport assigns an ID if needed, caches the report and persists it.
func (s *Storage) SaveReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Kind == "" {
		return fmt.Errorf("report %s has no kind", r.ID)
	}

	switch {
	case s.aws != nil:
		if err := s.aws.SaveReport(ctx, r); err != nil {
			return err
		}
	case s.config.Type == "local":
		if err := s.saveToFile(filepath.Join("reports", r.Kind), r.ID, r); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	s.mu.Lock()
	s.cache(*r)
	s.mu.Unlock()
	return nil
}

// ListReports returns up to limit reports, newest first. An empty kind
// lists every kind. With AWS storage a single kind is read from DynamoDB so
// reports written by other hosts are included.
func (s *Storage) ListReports(ctx context.Context, kind string, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	if s.aws != nil && kind != "" {
		return s.aws.ListReports(ctx, kind, limit)
	}

	s.mu.RLock()
	var out []Report
	if kind != "" {
		out = append(out, s.reports[kind]...)
	} else {
		for _, rs := range s.reports {
			out = append(out, rs...)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cache keeps reports per kind ordered oldest first. Caller holds s.mu.
func (s *Storage) cache(r Report) {
	rs := append(s.reports[r.Kind], r)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].FinishedAt.Before(rs[j].FinishedAt) })
	if len(rs) > maxCachedReports {
		rs = rs[len(rs)-maxCachedReports:]
	}
	s.reports[r.Kind] = rs
}

// saveToFile saves data to a JSON file
func (s *Storage) saveToFile(category, key string, data any) error {
	dir := filepath.Join(s.config.LocalPath, category)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path := filepath.Join(dir, filepath.Base(key)+".json")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// loadFromDisk reads reports written by earlier runs into the cache.
// Unreadable files are skipped.
func (s *Storage) loadFromDisk() error {
	root := filepath.Join(s.config.LocalPath, "reports")
	kinds, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		if !k.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, k.Name()))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(root, k.Name(), entry.Name()))
			if err != nil {
				continue
			}
			var r Report
			if err := json.Unmarshal(data, &r); err == nil && r.Kind != "" {
				s.cache(r)
			}
		}
	}
	return nil
}
