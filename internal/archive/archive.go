// Package archive keeps a copy of every raw webhook body in object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type Archiver interface {
	Archive(ctx context.Context, obj Object) error
}

type Object struct {
	Provider        string
	ProviderEventID string
	ReceivedAt      time.Time
	Payload         []byte
}

// Key returns webhooks/<provider>/<yyyy>/<mm>/<dd>/<event id>.json.
func (o Object) Key() string {
	at := o.ReceivedAt.UTC()
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json",
		sanitize(o.Provider),
		at.Year(), int(at.Month()), at.Day(),
		url.PathEscape(strings.TrimSpace(o.ProviderEventID)),
	)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client objectPutter
	bucket string
	log    *zap.Logger
}

func NewS3Archiver(client objectPutter, bucket string, log *zap.Logger) *S3Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3Archiver{client: client, bucket: bucket, log: log.Named("archive.s3")}
}

func (a *S3Archiver) Archive(ctx context.Context, obj Object) error {
	if strings.TrimSpace(obj.ProviderEventID) == "" {
		return fmt.Errorf("archive: provider event id is empty")
	}
	key := obj.Key()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(obj.Payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"provider":          obj.Provider,
			"provider-event-id": obj.ProviderEventID,
		},
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	a.log.Debug("webhook archived", zap.String("bucket", a.bucket), zap.String("key", key))
	return nil
}

type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, Object) error { return nil }

func sanitize(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "..", "_").Replace(value)
}
