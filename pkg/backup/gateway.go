package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Gateway moves encrypted artifacts between the local filesystem and a
// backup target. Implementations only ever see the finished artifact;
// plaintext never crosses this boundary.
type Gateway interface {
	// Provider returns the provider tag recorded on backups it carries
	Provider() string
	// Upload copies a local artifact to remotePath on the target
	Upload(ctx context.Context, localPath, remotePath string) error
	// Download copies the artifact at remotePath to localPath
	Download(ctx context.Context, remotePath, localPath string) error
}

// LocalGateway stores artifacts in a directory, e.g. a mounted external
// drive or synced folder
type LocalGateway struct {
	root string
}

// NewLocalGateway creates a gateway rooted at dir
func NewLocalGateway(dir string) (*LocalGateway, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create gateway directory: %w", err)
	}
	return &LocalGateway{root: dir}, nil
}

func (g *LocalGateway) Provider() string { return ProviderLocal }

func (g *LocalGateway) Upload(ctx context.Context, localPath, remotePath string) error {
	return g.transfer(ctx, localPath, g.resolve(remotePath))
}

func (g *LocalGateway) Download(ctx context.Context, remotePath, localPath string) error {
	return g.transfer(ctx, g.resolve(remotePath), localPath)
}

func (g *LocalGateway) resolve(remotePath string) string {
	return filepath.Join(g.root, filepath.Base(remotePath))
}

func (g *LocalGateway) transfer(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	return nil
}

// S3Gateway stores artifacts in an S3 bucket
type S3Gateway struct {
	client *s3.Client
	bucket string
}

// NewS3Gateway creates a gateway over bucket using the ambient AWS
// credential chain
func NewS3Gateway(ctx context.Context, bucket string) (*S3Gateway, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket not set")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &S3Gateway{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewS3GatewayWithClient creates a gateway over an existing client
func NewS3GatewayWithClient(client *s3.Client, bucket string) *S3Gateway {
	return &S3Gateway{client: client, bucket: bucket}
}

func (g *S3Gateway) Provider() string { return ProviderS3 }

func (g *S3Gateway) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &g.bucket,
		Key:    &remotePath,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	return nil
}

func (g *S3Gateway) Download(ctx context.Context, remotePath, localPath string) error {
	resp, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &g.bucket,
		Key:    &remotePath,
	})
	if err != nil {
		return fmt.Errorf("failed to download from s3: %w", err)
	}
	defer resp.Body.Close()

	out, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write downloaded artifact: %w", err)
	}
	return nil
}
