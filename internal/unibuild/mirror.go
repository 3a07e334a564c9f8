package unibuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorClient wraps an S3-compatible client pointed at the artifact
// mirror (S3, R2, minio — anything speaking the S3 API).
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
}

// NewMirrorClient initializes the mirror client from configuration values:
// UNIBUILD_MIRROR_URL, UNIBUILD_MIRROR_REGION, UNIBUILD_MIRROR_BUCKET,
// UNIBUILD_MIRROR_ACCESS_KEY, UNIBUILD_MIRROR_SECRET_KEY.
func NewMirrorClient(ctx context.Context, cfg *Config) (*MirrorClient, error) {
	endpoint := cfg.Value("MIRROR_URL")
	accessKey := cfg.Value("MIRROR_ACCESS_KEY")
	secretKey := cfg.Value("MIRROR_SECRET_KEY")
	bucketName := cfg.Value("MIRROR_BUCKET")
	region := cfg.Value("MIRROR_REGION")
	if region == "" {
		region = "auto"
	}

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("mirror credentials missing in configuration (UNIBUILD_MIRROR_URL, UNIBUILD_MIRROR_ACCESS_KEY, UNIBUILD_MIRROR_SECRET_KEY, UNIBUILD_MIRROR_BUCKET)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion(region),
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &MirrorClient{Client: client, BucketName: bucketName}, nil
}

// UploadLocalFile uploads a file from disk to the mirror.
func (m *MirrorClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".zst") {
		contentType = "application/zstd"
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	return err
}

// UploadArtifacts packages the merged libraries and pushes the bundle to
// the configured mirror. Failures here do not fail the build: the
// universal libraries are already on disk.
func UploadArtifacts(ctx context.Context, cfg *Config, artifacts []ArtifactSet) error {
	client, err := NewMirrorClient(ctx, cfg)
	if err != nil {
		return err
	}

	bundle, err := PackageArtifacts(cfg, artifacts)
	if err != nil {
		return fmt.Errorf("failed to package artifacts: %w", err)
	}

	key := filepath.Base(bundle)
	colArrow.Print("-> ")
	colSuccess.Printf("Uploading %s\n", key)
	if err := client.UploadLocalFile(ctx, key, bundle); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
