package repository

import (
	"fmt"

	zbackend "github.com/symmetree-labs/zerostash-sub000/backend"
)

// OpenBackend constructs the backend.Backend named by conf.Backend,
// mirroring the conditional remote wiring in bits/repository.go's
// NewRepository ("if repo.conf.AWSS3BucketName != '' { ... NewS3Remote
// ... }"), generalized to the three backend kinds the spec names.
func OpenBackend(conf *Conf) (zbackend.Backend, error) {
	switch conf.Backend {
	case "", "directory":
		return zbackend.NewDirectory(conf.LocalPath, conf.LocalCacheSize)

	case "s3":
		if conf.S3Bucket == "" {
			return nil, fmt.Errorf("s3 backend requires s3_bucket to be set")
		}
		return zbackend.NewS3(conf.S3Domain, conf.S3Bucket, conf.S3AccessKey, conf.S3SecretKey), nil

	case "cache":
		if conf.S3Bucket == "" {
			return nil, fmt.Errorf("cache backend requires s3_bucket to be set for its upstream")
		}
		upstream := zbackend.NewS3(conf.S3Domain, conf.S3Bucket, conf.S3AccessKey, conf.S3SecretKey)
		return zbackend.NewCache(conf.LocalPath, conf.LocalCacheSize, upstream)

	default:
		return nil, fmt.Errorf("unknown backend kind %q", conf.Backend)
	}
}
