package crossrt

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Store keeps downloaded archives in a Cloudflare R2 bucket under
// rpms/<package>.<arch>/<file>.
type R2Store struct {
	Client     *s3.Client
	BucketName string
}

// NewR2Store initializes the store from the R2 settings.
func NewR2Store(ctx context.Context, r R2Settings) (*R2Store, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("R2 credentials missing in configuration (CROSSRT_R2_ACCOUNT_ID, CROSSRT_R2_ACCESS_KEY_ID, CROSSRT_R2_SECRET_ACCESS_KEY, CROSSRT_R2_BUCKET_NAME)")
	}

	options := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r.AccessKey, r.SecretKey, "")),
		config.WithRegion("auto"),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Store{Client: client, BucketName: r.Bucket}, nil
}

func archivePrefix(pkg, arch string) string {
	return path.Join("rpms", pkg+"."+arch) + "/"
}

// Restore downloads the single cached archive for pkg.arch into dir.
func (r *R2Store) Restore(ctx context.Context, pkg, arch, dir string) (string, error) {
	prefix := archivePrefix(pkg, arch)
	list, err := r.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.BucketName),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return "", err
	}

	var keys []string
	for _, obj := range list.Contents {
		if obj.Key != nil && path.Ext(*obj.Key) == ".rpm" {
			keys = append(keys, *obj.Key)
		}
	}
	switch len(keys) {
	case 0:
		return "", fmt.Errorf("%w: nothing under %s", ErrPackageNotFound, prefix)
	case 1:
	default:
		return "", fmt.Errorf("%w: %d cached archives under %s", ErrAmbiguousMatch, len(keys), prefix)
	}

	output, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.BucketName),
		Key:    aws.String(keys[0]),
	})
	if err != nil {
		return "", err
	}
	defer output.Body.Close()

	dest := filepath.Join(dir, path.Base(keys[0]))
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, output.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

// Save uploads archivePath for pkg.arch.
func (r *R2Store) Save(ctx context.Context, pkg, arch, archivePath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(archivePrefix(pkg, arch) + filepath.Base(archivePath)),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/x-rpm"),
	})
	if err == nil {
		debugf("uploaded %s to r2://%s/%s\n", filepath.Base(archivePath), r.BucketName, archivePrefix(pkg, arch))
	}
	return err
}
