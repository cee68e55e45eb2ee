package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Archiver copies inbound media into an S3 bucket so it outlives the
// gateway's own retention. Best-effort: the pipeline works without it.
type Archiver struct {
	client     *s3.Client
	bucket     string
	httpClient *resty.Client
}

// NewArchiver creates an S3 media archiver. endpoint may be empty for AWS
// proper; any S3-compatible store works with a custom endpoint.
func NewArchiver(endpoint, region, bucket, accessKey, secretKey string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("S3 credentials cannot be empty")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}

	opts := []func(*s3.Options){}
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	log.Info().Str("bucket", bucket).Str("region", region).Msg("S3 media archiver configured")

	return &Archiver{
		client:     s3.NewFromConfig(cfg, opts...),
		bucket:     bucket,
		httpClient: resty.New().SetTimeout(30 * time.Second),
	}, nil
}

// Archive downloads the media URL and stores it under
// {instance}/{phone}/{messageId}{ext}. Returns the object key.
func (a *Archiver) Archive(ctx context.Context, instance, phone, messageID, mediaURL string) (string, error) {
	resp, err := a.httpClient.R().SetContext(ctx).Get(mediaURL)
	if err != nil {
		return "", fmt.Errorf("media download failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("media download returned status %s", resp.Status())
	}

	key := fmt.Sprintf("%s/%s/%s%s", instance, phone, messageID, extensionFor(mediaURL, resp.Header().Get("Content-Type")))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(resp.Body()),
		ContentType: aws.String(resp.Header().Get("Content-Type")),
	})
	if err != nil {
		return "", fmt.Errorf("S3 upload failed: %w", err)
	}

	log.Debug().Str("bucket", a.bucket).Str("key", key).Msg("Inbound media archived")
	return key, nil
}

func extensionFor(mediaURL, contentType string) string {
	if ext := path.Ext(strings.SplitN(mediaURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "audio/ogg", "audio/ogg; codecs=opus":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	}
	return ""
}
