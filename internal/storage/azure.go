package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	// Endpoint overrides the blob endpoint, e.g. for Azurite.
	Endpoint string
}

// connectionString builds the shared-key connection string for cfg.
func (c AzureConfig) connectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

type azureUploader struct {
	client    *azblob.Client
	container string
}

func newAzureUploader(cfg AzureConfig) (*azureUploader, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &azureUploader{client: client, container: cfg.ContainerName}, nil
}

func (u *azureUploader) Upload(ctx context.Context, key string, body io.ReadSeeker, _ int64, contentType string) error {
	_, err := u.client.UploadStream(ctx, u.container, key, body, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	return err
}

func (u *azureUploader) Backend() string { return "azure" }

func (u *azureUploader) Close() error { return nil }
