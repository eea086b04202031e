package storage

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Options struct {
	// Mode is "local" or "s3".
	Mode   string
	Path   string
	Bucket string
	Region string
}

// Open builds the asset store selected by opts.Mode. S3 credentials come from
// the default AWS chain.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Mode {
	case "", "local":
		fs, err := NewFileStore(opts.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
		if err != nil {
			return nil, fmt.Errorf("storage: load aws config: %w", err)
		}
		return NewS3Store(s3.NewFromConfig(awsCfg), opts.Bucket, "assets"), nil
	default:
		return nil, fmt.Errorf("storage: unknown mode %q", opts.Mode)
	}
}
