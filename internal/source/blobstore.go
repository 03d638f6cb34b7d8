package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// blobError classifies container failures for the retry layer: transport
// failures and throttling/server responses are transient, everything the
// service rejected outright is permanent.
type blobError struct {
	op  string
	err error
}

func (e *blobError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *blobError) Unwrap() error { return e.err }

func (e *blobError) Transient() bool {
	var respErr *azcore.ResponseError
	if errors.As(e.err, &respErr) {
		return respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= 500
	}
	// No HTTP response: the request never made it to the service.
	return true
}

// BlobSource offers media files from an Azure Blob Storage container,
// optionally limited to a key prefix. Fetch downloads the blob to a
// temporary file that the cleanup func removes.
type BlobSource struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewBlobSource creates a blob source from a connection string.
func NewBlobSource(connectionString, container, prefix string) (*BlobSource, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("blob source %s needs a connection string", container)
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &BlobSource{
		client:    client,
		container: container,
		prefix:    prefix,
	}, nil
}

func (b *BlobSource) Name() string {
	if b.prefix == "" {
		return "blob://" + b.container
	}
	return "blob://" + b.container + "/" + b.prefix
}

func (b *BlobSource) List(ctx context.Context) ([]Item, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if b.prefix != "" {
		opts.Prefix = &b.prefix
	}

	var items []Item
	pager := b.client.NewListBlobsFlatPager(b.container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &blobError{op: fmt.Sprintf("list container %s", b.container), err: err}
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || !IsMedia(*item.Name) {
				continue
			}
			entry := Item{Path: b.container + "/" + *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				entry.Size = *item.Properties.ContentLength
			}
			items = append(items, entry)
		}
	}
	return items, nil
}

// key strips the container segment the List path carries for dedup
// stability.
func (b *BlobSource) key(item Item) string {
	return strings.TrimPrefix(item.Path, b.container+"/")
}

func (b *BlobSource) Fetch(ctx context.Context, item Item) (string, func(), error) {
	noop := func() {}

	resp, err := b.client.DownloadStream(ctx, b.container, b.key(item), nil)
	if err != nil {
		return "", noop, &blobError{op: fmt.Sprintf("download blob %s", item.Path), err: err}
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "courier-*"+filepath.Ext(item.Path))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", noop, &blobError{op: fmt.Sprintf("download blob %s", item.Path), err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("flush temp file: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

func (b *BlobSource) Delete(ctx context.Context, item Item) error {
	_, err := b.client.DeleteBlob(ctx, b.container, b.key(item), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return &blobError{op: fmt.Sprintf("delete blob %s", item.Path), err: err}
	}
	return nil
}
