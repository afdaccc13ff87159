package documents

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

const ContentType = "application/pdf"

// Bucket uploads staged documents to, and removes objects from, the stack's document bucket.
type Bucket struct {
	Open func(ctx context.Context, name string) (*blob.Bucket, error)
	FS   afero.Fs
}

func NewBucket(cfg aws.Config, fs afero.Fs) *Bucket {
	client := s3.NewFromConfig(cfg)
	return &Bucket{
		Open: func(ctx context.Context, name string) (*blob.Bucket, error) {
			return s3blob.OpenBucketV2(ctx, client, name, nil)
		},
		FS: fs,
	}
}

// Upload puts every staged document in the bucket under its file name.
func (b *Bucket) Upload(ctx context.Context, name string, docs []Staged) (err error) {
	log := logging.GetLogger(ctx).Named("documents")
	bucket, err := b.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("could not open bucket %s: %w", name, err)
	}
	defer func() {
		if cerr := bucket.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for _, doc := range docs {
		if err := b.upload(ctx, bucket, doc); err != nil {
			return fmt.Errorf("could not upload %s to %s: %w", doc.FileName, name, err)
		}
		log.Info("uploaded document", zap.String("bucket", name), zap.String("key", doc.FileName))
	}
	return nil
}

func (b *Bucket) upload(ctx context.Context, bucket *blob.Bucket, doc Staged) error {
	f, err := b.FS.Open(doc.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return bucket.Upload(ctx, doc.FileName, f, &blob.WriterOptions{ContentType: ContentType})
}

// Empty deletes every object in the bucket. A bucket that no longer exists is already empty.
func (b *Bucket) Empty(ctx context.Context, name string) (err error) {
	log := logging.GetLogger(ctx).Named("documents").With(zap.String("bucket", name))
	bucket, err := b.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("could not open bucket %s: %w", name, err)
	}
	defer func() {
		if cerr := bucket.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	deleted := 0
	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if gcerrors.Code(err) == gcerrors.NotFound {
			log.Debug("bucket does not exist")
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not list %s: %w", name, err)
		}
		if obj.IsDir {
			continue
		}
		if err := bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("could not delete %s from %s: %w", obj.Key, name, err)
		}
		deleted++
	}
	log.Info("bucket emptied", zap.Int("deleted", deleted))
	return nil
}
