package persist

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"mirrordb/pkg/nosql"
)

// ErrNotFound is returned by drivers when a table folder or file does
// not exist. Deletes hitting it are treated as success.
var ErrNotFound = errors.New("persist: not found")

// MetadataFileName is the sentinel file holding table attributes.
const MetadataFileName = ".metadata"

// TableFile identifies one file of a table's persisted layout: either
// the attributes sentinel or one partition file whose name is the
// base64 of the partition key.
type TableFile struct {
	Attributes   bool
	PartitionKey string
}

// partition file names use the URL-safe alphabet so every backend can
// use them verbatim as file, blob or key names
var fileEncoding = base64.URLEncoding

// Name renders the on-disk / blob file name.
func (f TableFile) Name() string {
	if f.Attributes {
		return MetadataFileName
	}
	return fileEncoding.EncodeToString([]byte(f.PartitionKey))
}

// AttributesFile names the metadata sentinel.
func AttributesFile() TableFile { return TableFile{Attributes: true} }

// PartitionFile names the file of one partition.
func PartitionFile(pk string) TableFile { return TableFile{PartitionKey: pk} }

// ParseTableFile decodes a stored file name back into its identity.
func ParseTableFile(name string) (TableFile, error) {
	if name == MetadataFileName {
		return TableFile{Attributes: true}, nil
	}
	pk, err := fileEncoding.DecodeString(name)
	if err != nil {
		return TableFile{}, err
	}
	return TableFile{PartitionKey: string(pk)}, nil
}

// Driver is the capability set a persistence backend exposes to the
// scheduler and the loader. Implementations must be safe for concurrent
// use and should not retry internally; the scheduler retries with
// backoff.
type Driver interface {
	ListTables(ctx context.Context) ([]string, error)
	ListTableFiles(ctx context.Context, table string) ([]TableFile, error)
	// LoadTableFile returns ErrNotFound when the file does not exist.
	LoadTableFile(ctx context.Context, table string, file TableFile) ([]byte, error)
	CreateTableFolder(ctx context.Context, table string) error
	SaveTableFile(ctx context.Context, table string, file TableFile, data []byte) error
	DeleteTableFile(ctx context.Context, table string, file TableFile) error
	DeleteTableFolder(ctx context.Context, table string) error
	Close() error
}

// storedAttributes is the compact .metadata JSON shape.
type storedAttributes struct {
	Persist                   bool `json:"Persist"`
	MaxPartitionsAmount       *int `json:"MaxPartitionsAmount"`
	MaxRowsPerPartitionAmount *int `json:"MaxRowsPerPartitionAmount"`
}

// MarshalAttributes renders table attributes as the .metadata payload.
func MarshalAttributes(attrs nosql.Attributes) []byte {
	sa := storedAttributes{Persist: attrs.Persist}
	if attrs.MaxPartitionsAmount > 0 {
		v := attrs.MaxPartitionsAmount
		sa.MaxPartitionsAmount = &v
	}
	if attrs.MaxRowsPerPartitionAmount > 0 {
		v := attrs.MaxRowsPerPartitionAmount
		sa.MaxRowsPerPartitionAmount = &v
	}
	b, _ := json.Marshal(sa)
	return b
}

// UnmarshalAttributes parses a .metadata payload. Unparsable content
// falls back to defaults: persist on, no caps.
func UnmarshalAttributes(data []byte, now nosql.Micros) nosql.Attributes {
	attrs := nosql.DefaultAttributes(now)
	var sa storedAttributes
	if err := json.Unmarshal(data, &sa); err != nil {
		return attrs
	}
	attrs.Persist = sa.Persist
	if sa.MaxPartitionsAmount != nil {
		attrs.MaxPartitionsAmount = *sa.MaxPartitionsAmount
	}
	if sa.MaxRowsPerPartitionAmount != nil {
		attrs.MaxRowsPerPartitionAmount = *sa.MaxRowsPerPartitionAmount
	}
	return attrs
}

// UnmarshalRows parses a persisted partition file back into rows,
// preserving persisted timestamps.
func UnmarshalRows(data []byte) ([]*nosql.Row, error) {
	entities, err := nosql.ParseEntityArray(data)
	if err != nil {
		return nil, err
	}
	rows := make([]*nosql.Row, 0, len(entities))
	for _, e := range entities {
		row, err := e.RestoreRow()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
