package asset

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"go.uber.org/zap"
)

// S3Downloader downloads s3://bucket/key URLs.
// The AWS session is created on first use from the shared AWS config and environment,
// so that plain HTTP downloads never require AWS credentials.
type S3Downloader struct {
	Log *zap.SugaredLogger
	// API overrides the downloader built from the default session.
	API s3manageriface.DownloaderAPI

	apiMut sync.Mutex
}

func NewS3Downloader(log *zap.SugaredLogger) *S3Downloader {
	return &S3Downloader{Log: log.Named("s3_downloader")}
}

func (d *S3Downloader) api() (s3manageriface.DownloaderAPI, error) {
	d.apiMut.Lock()
	defer d.apiMut.Unlock()
	if d.API != nil {
		return d.API, nil
	}
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, fmt.Errorf("creating AWS Go SDK session: %w", err)
	}
	d.API = s3manager.NewDownloader(sess)
	return d.API, nil
}

// ParseS3URL splits an s3://bucket/key URL into its bucket and key.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 URL: %q", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 URL %q must have a bucket and a key", rawURL)
	}
	return u.Host, key, nil
}

func (d *S3Downloader) Download(ctx context.Context, rawURL, dest string) error {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return &NetworkError{URL: rawURL, Err: err}
	}
	api, err := d.api()
	if err != nil {
		return &NetworkError{URL: rawURL, Err: err}
	}

	f, err := createFile(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := api.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		discardPartial(d.Log, f, dest)
		return &NetworkError{URL: rawURL, Err: err}
	}
	err = f.Close()
	if err != nil {
		return &IOError{Op: "close", Path: dest, Err: err}
	}
	d.Log.Debugw("downloaded object", "Bucket", bucket, "Key", key, "Dest", dest, "Bytes", n)
	return nil
}
