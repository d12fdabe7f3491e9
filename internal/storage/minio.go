package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/telemetry"
)

const refScheme = "s3://"

// MinioConfig — параметры подключения к MinIO / S3.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Minio — ReportStore поверх MinIO.
type Minio struct {
	client  *minio.Client
	bucket  string
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewMinio подключается к MinIO и создаёт bucket, если его нет.
func NewMinio(ctx context.Context, cfg MinioConfig, metrics *telemetry.Metrics, logger *slog.Logger) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: endpoint and bucket are required", ErrNotConfigured)
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Minio{client: cli, bucket: cfg.Bucket, metrics: metrics, logger: logger}, nil
}

// Archive сохраняет отчёт как JSON и возвращает ссылку s3://bucket/key.
func (s *Minio) Archive(ctx context.Context, task *domain.Task, report *domain.Report) (string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveCall(telemetry.CallArchive, time.Since(start)) }()

	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	key := ObjectKey(task)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"task-id":     task.ID.String(),
			"fingerprint": task.Fingerprint.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	ref := refScheme + s.bucket + "/" + key
	s.logger.Debug("report archived", "task_id", task.ID, "ref", ref)
	return ref, nil
}

// Load читает отчёт по ссылке, полученной от Archive.
func (s *Minio) Load(ctx context.Context, ref string) (*domain.Report, error) {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	var report domain.Report
	if err := json.NewDecoder(obj).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &report, nil
}

// ObjectKey — reports/<owner>/<repo>/<number>/<task id>.json.
func ObjectKey(task *domain.Task) string {
	return fmt.Sprintf("reports/%s/%d/%s.json", strings.ToLower(task.Repo), task.PRNumber, task.ID)
}

// ParseRef разбирает ссылку s3://bucket/key.
func ParseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported ref %q", domain.ErrInvalidInput, ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: malformed ref %q", domain.ErrInvalidInput, ref)
	}
	return bucket, key, nil
}
