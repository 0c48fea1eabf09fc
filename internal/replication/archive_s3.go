package replication

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/clbanning/mxj/v2"
)

// S3Archive talks to an S3-like external archive endpoint (identifiers map
// to buckets, files map to keys), the shape spec §6 describes as
// "S3-like API with opaque asynchronous processing".
type S3Archive struct {
	client *s3.S3
}

func NewS3Archive(sess *session.Session) *S3Archive {
	return &S3Archive{client: s3.New(sess)}
}

func (a *S3Archive) GetItem(ctx context.Context, identifier string) (*RemoteItemInfo, error) {
	out, err := a.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(identifier)})
	if err != nil {
		return nil, classifyAWSError(err)
	}
	_ = out

	list, err := a.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(identifier)})
	if err != nil {
		return nil, classifyAWSError(err)
	}

	return &RemoteItemInfo{FileCount: len(list.Contents)}, nil
}

func (a *S3Archive) GetS3LoadInfo(ctx context.Context, identifier, accessKey string) (*LoadInfo, error) {
	_, err := a.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(identifier)})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == s3.ErrCodeNoSuchBucket {
			return &LoadInfo{}, nil
		}
		return nil, classifyAWSError(err)
	}
	return &LoadInfo{}, nil
}

// UploadFile streams body to the bucket identified by identifier, under
// key, with the standardized item and file metadata flattened via
// clbanning/mxj into the flat string-keyed map the S3 metadata API
// expects.
func (a *S3Archive) UploadFile(ctx context.Context, identifier, key string, body io.Reader, itemMeta ItemMetadata, fileMeta FileMetadata, accessKey, secretKey string, queueDerive bool) error {
	metadata, err := flattenMetadata(itemMeta, fileMeta)
	if err != nil {
		return err
	}

	buf, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(identifier),
		Key:      aws.String(key),
		Body:     bytes.NewReader(buf),
		Metadata: metadata,
	})
	if err != nil {
		return classifyAWSError(err)
	}
	return nil
}

func (a *S3Archive) DeleteFile(ctx context.Context, identifier, key string, cascadeDelete bool, accessKey, secretKey string) error {
	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(identifier),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyAWSError(err)
	}
	return nil
}

func (a *S3Archive) GetFile(ctx context.Context, identifier, key string) (*RemoteFileInfo, error) {
	out, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(identifier),
		Key:    aws.String(key),
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == "NotFound" {
			return &RemoteFileInfo{Exists: false}, nil
		}
		return nil, classifyAWSError(err)
	}

	meta := make(FileMetadata, len(out.Metadata))
	for k, v := range out.Metadata {
		if v != nil {
			meta[k] = *v
		}
	}

	return &RemoteFileInfo{
		Exists:   true,
		Metadata: meta,
		Size:     aws.Int64Value(out.ContentLength),
	}, nil
}

// flattenMetadata merges item and file metadata into the flat
// string-keyed map S3 object metadata requires, using clbanning/mxj to
// flatten any nested structure either map might carry (e.g. a JSON blob
// value) into dotted keys.
func flattenMetadata(itemMeta ItemMetadata, fileMeta FileMetadata) (map[string]*string, error) {
	merged := mxj.Map{}
	for k, v := range itemMeta {
		merged["item."+k] = v
	}
	for k, v := range fileMeta {
		merged["file."+k] = v
	}

	flat, err := merged.Flatten(false)
	if err != nil {
		return nil, fmt.Errorf("replication: flatten metadata: %w", err)
	}

	out := make(map[string]*string, len(flat))
	for k, v := range flat {
		s := fmt.Sprintf("%v", v)
		out[sanitizeMetadataKey(k)] = aws.String(s)
	}
	return out, nil
}

// sanitizeMetadataKey replaces characters S3 user metadata keys disallow.
func sanitizeMetadataKey(k string) string {
	return strings.NewReplacer(".", "-", " ", "-").Replace(k)
}

// classifyAWSError maps an AWS SDK error into the replication package's
// error taxonomy (connection, rate-limit, concurrent-creation, generic
// HTTP), per spec §6's expected error surface.
func classifyAWSError(err error) error {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return &ConnectionError{Err: err}
	}

	msg := awsErr.Message()
	switch {
	case strings.Contains(msg, "Please reduce your request rate"):
		return &RateLimitError{Body: msg}
	case strings.Contains(msg, "bucket namespace is shared"),
		strings.Contains(msg, "short term bucket lock"),
		strings.Contains(msg, "auto_make_bucket requested"),
		strings.Contains(msg, "not_available"):
		return &ConcurrentCreationError{Body: msg}
	case isConnectionClassCode(awsErr.Code()):
		return &ConnectionError{Err: err}
	default:
		return &HTTPError{StatusCode: 0, Body: msg}
	}
}

func isConnectionClassCode(code string) bool {
	switch code {
	case "RequestError", "RequestTimeout", "RequestCanceled", "NetworkingError":
		return true
	default:
		return false
	}
}
