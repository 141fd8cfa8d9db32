package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	// PathStyle addresses the bucket in the path, as most S3-compatible services expect.
	PathStyle bool

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKey string
	SecretKey string
}

// S3Backend stores runner secrets in Amazon S3 or a compatible service.
// Objects are private and server-side encrypted; they are additionally sealed
// with age when recipients are configured.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	sealing     Sealing
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 storage backend.
func NewS3Backend(cfg S3Config, sealing Sealing, log *slog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("missing S3 bucket")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, cfg.Prefix, cfg.Region)
	if cfg.AccessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", cfg.AccessKey, cfg.Bucket, cfg.Prefix, cfg.Region)
	}
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	awsCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		log.Debug("No static S3 credentials, using the default AWS credential chain")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		sealing:     sealing,
		log:         log,
		locationURI: uri,
	}, nil
}

// UseIdentity sets the identity sealed secrets are opened with.
func (b *S3Backend) UseIdentity(identity *age.X25519Identity) {
	b.sealing.Identity = identity
}

// Fetch retrieves the secret stored under key.
// Returns ErrSecretNotFound if the object doesn't exist.
func (b *S3Backend) Fetch(ctx context.Context, key interfaces.SecretKey) (*interfaces.RunnerRegistrationSecretData, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var result *s3.GetObjectOutput
	var objectKey string
	var err error
	for _, ext := range []string{".age", ".json"} {
		objectKey = b.getObjectKey(key, ext)
		result, err = b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucketName),
			Key:    aws.String(objectKey),
		})
		if err == nil || !isS3NotFound(err) {
			break
		}
	}
	if err != nil {
		if isS3NotFound(err) {
			b.log.Debug("Secret not found in S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", objectKey),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrSecretNotFound
		}

		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: failed to get object from S3: %w", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	plaintext, err := b.sealing.open(data)
	if err != nil {
		return nil, err
	}

	b.log.Debug("Fetched secret from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Duration("duration", time.Since(start)))

	return unmarshalSecret(plaintext)
}

// Store uploads the secret under key, replacing any previous object.
func (b *S3Backend) Store(ctx context.Context, key interfaces.SecretKey, secret *interfaces.RunnerRegistrationSecretData) error {
	if err := key.Validate(); err != nil {
		return err
	}

	doc, err := marshalSecret(secret)
	if err != nil {
		return err
	}
	data, err := b.sealing.seal(doc)
	if err != nil {
		return err
	}

	ext, stale := ".json", ".age"
	if b.sealing.sealed() {
		ext, stale = stale, ext
	}
	objectKey := b.getObjectKey(key, ext)
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(b.bucketName),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(data),
		ACL:                  aws.String(s3.ObjectCannedACLPrivate),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload object to S3: %w", interfaces.ErrBackendUnavailable, err)
	}

	// Fetch prefers .age, so a secret stored under the other extension must not linger.
	if _, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.getObjectKey(key, stale)),
	}); err != nil {
		b.log.Warn("Failed to delete stale object", slog.String("bucket", b.bucketName), "err", err)
	}

	b.log.Debug("Stored secret in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Bool("sealed", b.sealing.sealed()))

	return nil
}

// Available checks if the S3 backend is accessible by attempting to head the bucket.
func (b *S3Backend) Available(ctx context.Context) bool {
	start := time.Now()

	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) getObjectKey(key interfaces.SecretKey, ext string) string {
	return path.Join(b.prefix, key.Owner, key.Repository, key.Runner+ext)
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
		return true
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404")
}
