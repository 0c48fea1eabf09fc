package blobstore

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3 is a BlobStore backed by an S3-compatible bucket, used when WARCs
// need to be staged somewhere other than local disk before replication
// streams them out to the external archive.
type S3 struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3 returns an S3 BlobStore for the given bucket, using sess for
// credentials and endpoint configuration.
func NewS3(sess *session.Session, bucket string) *S3 {
	return &S3{
		bucket:   bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}
}

func (s *S3) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (s *S3) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	// s3manager.Upload needs a ReaderAt for multipart uploads of unknown
	// size, so buffer first and report the exact byte count written.
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return n, err
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return n, err
	}
	return n, nil
}

func (s *S3) Size(ctx context.Context, path string) (int64, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return 0, err
	}
	return aws.Int64Value(out.ContentLength), nil
}
