// Package writer mirrors the ledger off the host: parquet encoding and S3
// uploads.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"fundingsim/config"
	"fundingsim/ledger"
	"fundingsim/logger"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Uploader is the subset of the S3 client the mirror needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads the whole ledger to a fixed key after every run.
type S3Mirror struct {
	client  Uploader
	bucket  string
	prefix  string
	format  string
	symbol  string
	version string
	log     *logger.Log
}

// NewS3Mirror builds an S3 client from cfg. Static credentials are used
// when both keys are set, otherwise the default AWS chain.
func NewS3Mirror(ctx context.Context, cfg config.S3Config, symbol, version string) (*S3Mirror, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	m := NewS3MirrorWithClient(client, cfg, symbol, version)
	m.log.WithComponent("s3_mirror").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
		"format":     m.format,
	}).Info("s3 mirror initialized")
	return m, nil
}

// NewS3MirrorWithClient wires an existing uploader.
func NewS3MirrorWithClient(client Uploader, cfg config.S3Config, symbol, version string) *S3Mirror {
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = FormatCSV
	}
	return &S3Mirror{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		format:  format,
		symbol:  symbol,
		version: version,
		log:     logger.GetLogger(),
	}
}

// Key is the object key the ledger is stored under.
func (m *S3Mirror) Key() string {
	return path.Join(m.prefix, m.symbol, "ledger."+m.format)
}

// Sync uploads the ledger at ledgerPath, replacing the previous object.
func (m *S3Mirror) Sync(ctx context.Context, ledgerPath string) error {
	log := m.log.WithComponent("s3_mirror").WithFields(logger.Fields{
		"operation": "sync",
		"bucket":    m.bucket,
		"key":       m.Key(),
	})

	var (
		body        []byte
		contentType string
		err         error
	)
	switch m.format {
	case FormatParquet:
		rows, rerr := ledger.New(ledgerPath, ledger.Options{}).ReadAll()
		if rerr != nil {
			return rerr
		}
		body, err = EncodeParquet(rows)
		contentType = "application/octet-stream"
	default:
		body, err = os.ReadFile(ledgerPath)
		if err != nil {
			err = errors.Wrap(err, "read ledger")
		}
		contentType = "text/csv"
	}
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.Key()),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"format":             m.format,
			"symbol":             m.symbol,
			"fundingsim-version": m.version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", m.bucket, err)
	}
	logger.LogPerformanceEntry(log, "s3_mirror", "put_object", time.Since(start), logger.Fields{
		"bytes": len(body),
	})
	log.Info("ledger mirrored to s3")
	return nil
}
