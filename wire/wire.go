// Package wire encodes Delta Sharing responses as newline-delimited JSON in
// either the parquet or the delta response format.
package wire

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/capability"
)

// ContentType of ndjson responses.
const ContentType = "application/x-ndjson; charset=utf-8"

// TableStats are the optional version-level figures on a metadata line.
type TableStats struct {
	Version  int64
	Size     int64
	NumFiles int
}

// File is one served data file: the log entry plus its signed URL.
type File struct {
	ID        string
	URL       string
	ExpiresAt int64 // unix ms
	Add       action.AddFile
	// Version and Timestamp are set when the request named a version or
	// timestamp explicitly.
	Version   *int64
	Timestamp *int64
	// DeletionVectorURL replaces the vector's location in the delta format
	// when the vector is stored in a file.
	DeletionVectorURL string
}

// Encoder writes response lines in one format.
type Encoder struct {
	enc    *json.Encoder
	format string
}

// NewEncoder returns an encoder for format (capability.FormatParquet or
// capability.FormatDelta).
func NewEncoder(w io.Writer, format string) (*Encoder, error) {
	switch format {
	case capability.FormatParquet, capability.FormatDelta:
	default:
		return nil, fmt.Errorf("unknown response format %q", format)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc, format: format}, nil
}

func (e *Encoder) Format() string { return e.format }

type parquetProtocol struct {
	MinReaderVersion int `json:"minReaderVersion"`
}

type deltaProtocol struct {
	DeltaProtocol action.Protocol `json:"deltaProtocol"`
}

// Protocol writes the protocol line.
func (e *Encoder) Protocol(p action.Protocol) error {
	if e.format == capability.FormatDelta {
		return e.enc.Encode(map[string]any{"protocol": deltaProtocol{DeltaProtocol: p}})
	}
	// Parquet responses carry only what legacy readers understand.
	return e.enc.Encode(map[string]any{"protocol": parquetProtocol{MinReaderVersion: min(p.MinReaderVersion, 1)}})
}

type parquetMetadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           action.Format     `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration,omitempty"`
	Version          *int64            `json:"version,omitempty"`
	Size             *int64            `json:"size,omitempty"`
	NumFiles         *int              `json:"numFiles,omitempty"`
}

type deltaMetadata struct {
	Version       *int64          `json:"version,omitempty"`
	Size          *int64          `json:"size,omitempty"`
	NumFiles      *int            `json:"numFiles,omitempty"`
	DeltaMetadata action.Metadata `json:"deltaMetadata"`
}

// Metadata writes the metaData line. stats may be nil.
func (e *Encoder) Metadata(md action.Metadata, stats *TableStats) error {
	var version, size *int64
	var numFiles *int
	if stats != nil {
		version, size, numFiles = &stats.Version, &stats.Size, &stats.NumFiles
	}
	partCols := md.PartitionColumns
	if partCols == nil {
		partCols = []string{}
	}
	if e.format == capability.FormatDelta {
		md.PartitionColumns = partCols
		return e.enc.Encode(map[string]any{"metaData": deltaMetadata{
			Version: version, Size: size, NumFiles: numFiles, DeltaMetadata: md,
		}})
	}
	return e.enc.Encode(map[string]any{"metaData": parquetMetadata{
		ID:               md.ID,
		Name:             md.Name,
		Description:      md.Description,
		Format:           md.Format,
		SchemaString:     md.SchemaString,
		PartitionColumns: partCols,
		Configuration:    md.Configuration,
		Version:          version,
		Size:             size,
		NumFiles:         numFiles,
	}})
}

type parquetFile struct {
	URL                 string            `json:"url"`
	ID                  string            `json:"id"`
	PartitionValues     map[string]string `json:"partitionValues"`
	Size                int64             `json:"size"`
	Stats               string            `json:"stats,omitempty"`
	Version             *int64            `json:"version,omitempty"`
	Timestamp           *int64            `json:"timestamp,omitempty"`
	ExpirationTimestamp int64             `json:"expirationTimestamp"`
}

type deltaFile struct {
	ID                   string            `json:"id"`
	DeletionVectorFileID string            `json:"deletionVectorFileId,omitempty"`
	Version              *int64            `json:"version,omitempty"`
	Timestamp            *int64            `json:"timestamp,omitempty"`
	ExpirationTimestamp  int64             `json:"expirationTimestamp"`
	DeltaSingleAction    deltaSingleAction `json:"deltaSingleAction"`
}

type deltaSingleAction struct {
	Add action.AddFile `json:"add"`
}

// File writes one file line.
func (e *Encoder) File(f File) error {
	pv := f.Add.PartitionValues
	if pv == nil {
		pv = map[string]string{}
	}
	if e.format == capability.FormatParquet {
		return e.enc.Encode(map[string]any{"file": parquetFile{
			URL:                 f.URL,
			ID:                  f.ID,
			PartitionValues:     pv,
			Size:                f.Add.Size,
			Stats:               f.Add.Stats,
			Version:             f.Version,
			Timestamp:           f.Timestamp,
			ExpirationTimestamp: f.ExpiresAt,
		}})
	}

	add := f.Add
	add.Path = f.URL
	add.PartitionValues = pv
	out := deltaFile{
		ID:                  f.ID,
		Version:             f.Version,
		Timestamp:           f.Timestamp,
		ExpirationTimestamp: f.ExpiresAt,
	}
	if dv := add.DeletionVector; dv != nil && !dv.IsInline() && f.DeletionVectorURL != "" {
		rewritten := *dv
		rewritten.StorageType = action.DVAbsolute
		rewritten.PathOrInlineDv = f.DeletionVectorURL
		add.DeletionVector = &rewritten
		out.DeletionVectorFileID = f.ID + "-dv"
	}
	out.DeltaSingleAction = deltaSingleAction{Add: add}
	return e.enc.Encode(map[string]any{"file": out})
}

type endStream struct {
	NextPageToken             string `json:"nextPageToken,omitempty"`
	MinURLExpirationTimestamp *int64 `json:"minUrlExpirationTimestamp,omitempty"`
}

// EndStream writes the closing line. minExpiry is omitted when zero.
func (e *Encoder) EndStream(nextPageToken string, minExpiry int64) error {
	es := endStream{NextPageToken: nextPageToken}
	if minExpiry > 0 {
		es.MinURLExpirationTimestamp = &minExpiry
	}
	return e.enc.Encode(map[string]any{"endStreamAction": es})
}
