// Package report persists run reports to a local file or an S3 object.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ride-compare/rideops/internal/ir"
)

const s3Scheme = "s3://"

// PutObjectAPI is the part of the S3 client a report upload needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Writer stores a finished report.
type Writer interface {
	Write(ctx context.Context, r *ir.Report) (string, error)
}

// NewWriter returns a writer for dest, either a local path or s3://bucket/key.
// A destination ending in "/" names a directory or prefix; the file name is
// then derived from the command and run id.
func NewWriter(dest string, client PutObjectAPI) (Writer, error) {
	if dest == "" {
		return nil, fmt.Errorf("report destination is empty")
	}
	if !strings.HasPrefix(dest, s3Scheme) {
		return &fileWriter{path: dest}, nil
	}

	bucket, key, _ := strings.Cut(strings.TrimPrefix(dest, s3Scheme), "/")
	if bucket == "" {
		return nil, fmt.Errorf("report destination %s has no bucket", dest)
	}
	if key == "" {
		key = "rideops/reports/"
	}
	if client == nil {
		return nil, fmt.Errorf("report destination %s needs an S3 client", dest)
	}
	return &s3Writer{bucket: bucket, key: key, client: client}, nil
}

// Marshal renders a report as indented JSON.
func Marshal(r *ir.Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

func fileName(r *ir.Report) string {
	return fmt.Sprintf("%s-%s.json", r.Command, r.RunID)
}

type fileWriter struct {
	path string
}

func (w *fileWriter) Write(ctx context.Context, r *ir.Report) (string, error) {
	path := w.path
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator)) {
		path = filepath.Join(path, fileName(r))
	}

	data, err := Marshal(r)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	// Write to a sibling temp file first so a reader never sees a partial report.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

type s3Writer struct {
	bucket string
	key    string
	client PutObjectAPI
}

func (w *s3Writer) Write(ctx context.Context, r *ir.Report) (string, error) {
	key := w.key
	if strings.HasSuffix(key, "/") {
		key += fileName(r)
	}

	data, err := Marshal(r)
	if err != nil {
		return "", err
	}

	dest := s3Scheme + w.bucket + "/" + key
	if _, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(w.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	}); err != nil {
		return "", fmt.Errorf("failed to write report to %s: %w", dest, err)
	}
	return dest, nil
}
