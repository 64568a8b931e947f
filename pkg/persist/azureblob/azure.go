// Package azureblob persists table files as block blobs named
// <table>/<file> inside one container.
package azureblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"

	"mirrordb/pkg/persist"
)

// Driver stores every table file in a single Azure blob container.
type Driver struct {
	container azblob.ContainerURL
}

// New builds the driver from shared-key credentials.
func New(accountName, accountKey, containerName string) (*Driver, error) {
	credentials, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, errors.Wrap(err, "building azure credentials")
	}
	pipeline := azblob.NewPipeline(credentials, azblob.PipelineOptions{})

	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", accountName, containerName))
	if err != nil {
		return nil, errors.Wrap(err, "building container url")
	}
	return &Driver{container: azblob.NewContainerURL(*u, pipeline)}, nil
}

func blobName(table string, file persist.TableFile) string {
	return table + "/" + file.Name()
}

func isBlobNotFound(err error) bool {
	storageErr, ok := err.(azblob.StorageError)
	return ok && storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
}

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	options := azblob.ListBlobsSegmentOptions{}
	for marker := (azblob.Marker{}); marker.NotDone(); {
		segment, err := d.container.ListBlobsFlatSegment(ctx, marker, options)
		if err != nil {
			return nil, errors.Wrap(err, "listing container blobs")
		}
		for _, blob := range segment.Segment.BlobItems {
			table, _, ok := strings.Cut(blob.Name, "/")
			if !ok || seen[table] {
				continue
			}
			seen[table] = true
			out = append(out, table)
		}
		marker = segment.NextMarker
	}
	return out, nil
}

func (d *Driver) ListTableFiles(ctx context.Context, table string) ([]persist.TableFile, error) {
	prefix := table + "/"
	var out []persist.TableFile
	options := azblob.ListBlobsSegmentOptions{Prefix: prefix}
	for marker := (azblob.Marker{}); marker.NotDone(); {
		segment, err := d.container.ListBlobsFlatSegment(ctx, marker, options)
		if err != nil {
			return nil, errors.Wrapf(err, "listing blobs of table %s", table)
		}
		for _, blob := range segment.Segment.BlobItems {
			if strings.HasSuffix(blob.Name, "/") {
				continue
			}
			f, perr := persist.ParseTableFile(blob.Name[len(prefix):])
			if perr != nil {
				continue
			}
			out = append(out, f)
		}
		marker = segment.NextMarker
	}
	if len(out) == 0 {
		return nil, persist.ErrNotFound
	}
	return out, nil
}

func (d *Driver) LoadTableFile(ctx context.Context, table string, file persist.TableFile) ([]byte, error) {
	blobURL := d.container.NewBlockBlobURL(blobName(table, file))
	download, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if isBlobNotFound(err) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %s", blobName(table, file))
	}
	body := download.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	return io.ReadAll(body)
}

// CreateTableFolder is a no-op: blob storage has no folders, the table
// shows up once its first file is uploaded.
func (d *Driver) CreateTableFolder(_ context.Context, _ string) error { return nil }

func (d *Driver) SaveTableFile(ctx context.Context, table string, file persist.TableFile, data []byte) error {
	blobURL := d.container.NewBlockBlobURL(blobName(table, file))
	_, err := blobURL.Upload(ctx, bytes.NewReader(data), azblob.BlobHTTPHeaders{ContentType: "application/json"},
		azblob.Metadata{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, azblob.BlobTagsMap{},
		azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return errors.Wrapf(err, "uploading %s", blobName(table, file))
}

func (d *Driver) DeleteTableFile(ctx context.Context, table string, file persist.TableFile) error {
	blobURL := d.container.NewBlockBlobURL(blobName(table, file))
	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if isBlobNotFound(err) {
		return persist.ErrNotFound
	}
	return errors.Wrapf(err, "deleting %s", blobName(table, file))
}

func (d *Driver) DeleteTableFolder(ctx context.Context, table string) error {
	files, err := d.ListTableFiles(ctx, table)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := d.DeleteTableFile(ctx, table, f); err != nil && err != persist.ErrNotFound {
			return err
		}
	}
	return nil
}

func (d *Driver) Close() error { return nil }
