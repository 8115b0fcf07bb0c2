package s3archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jinford/teardown/internal/core/job"
)

// Config は S3 アーカイブの設定
type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// PutObjectAPI は s3.Client のうちアップロードに使う部分
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver は完了したレポートを S3 互換ストレージに保管する
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// New は AWS の既定の認証情報チェーンでクライアントを作成する。
// Endpoint を指定した場合はパススタイルで MinIO 等に接続する
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(NewClient(awsCfg, cfg.Endpoint), cfg.Bucket, cfg.Prefix, logger), nil
}

// NewClient は設定から s3.Client を作成する
func NewClient(awsCfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
}

// NewWithClient は既存のクライアントから Archiver を作成する
func NewWithClient(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Key はジョブのレポートを置くオブジェクトキーを返す
func (a *Archiver) Key(jobID, reportPath string) string {
	return path.Join(a.prefix, jobID, filepath.Base(reportPath))
}

// Archive はレポートファイルをアップロードし s3:// URI を返す
func (a *Archiver) Archive(ctx context.Context, j *job.Job, reportPath string) (string, error) {
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return "", fmt.Errorf("failed to read report: %w", err)
	}

	key := a.Key(j.ID, reportPath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/markdown; charset=utf-8"),
		Metadata: map[string]string{
			"job-id":  j.ID,
			"company": j.CompanyName,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.logger.Info("レポートをアーカイブ", "jobID", j.ID, "uri", uri)
	return uri, nil
}

var _ job.ReportArchiver = (*Archiver)(nil)
