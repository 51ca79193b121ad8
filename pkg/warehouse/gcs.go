package warehouse

import (
	"context"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
)

// GCSStager writes staged load files to Cloud Storage.
type GCSStager struct {
	client *storage.Client
}

// NewGCSStager returns a Stager using client
func NewGCSStager(client *storage.Client) *GCSStager {
	return &GCSStager{client: client}
}

func (s *GCSStager) WriteObject(ctx context.Context, uri string, payload []byte, attrs ObjectAttrs) error {
	bucket, name, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}

	writer := s.client.Bucket(bucket).Object(name).NewWriter(ctx)
	writer.ContentType = attrs.ContentType
	writer.Metadata = attrs.Metadata

	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return classify(err, "failed to write staged object").WithDetail("uri", uri)
	}
	if err := writer.Close(); err != nil {
		return classify(err, "failed to finalize staged object").WithDetail("uri", uri)
	}
	return nil
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object name.
func ParseGCSURI(uri string) (bucket, name string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "not a gs:// URI").
			WithDetail("uri", uri)
	}
	bucket, name, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "URI must name a bucket and an object").
			WithDetail("uri", uri)
	}
	return bucket, name, nil
}

// GCSURI joins bucket and path segments into a gs:// URI
func GCSURI(bucket string, segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return "gs://" + bucket + "/" + strings.Join(parts, "/")
}
