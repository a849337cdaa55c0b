// Package action models the records of a Delta transaction log and decodes
// them from JSON commit files and Parquet checkpoints.
//
// A commit is an ordered list of actions. Action is a closed union: the only
// implementations are the pointer types declared in this file, and replay
// code switches over them exhaustively.
package action

import "encoding/json"

// Kind names an action case as it appears as the top-level key of a log line.
type Kind string

const (
	KindAdd        Kind = "add"
	KindRemove     Kind = "remove"
	KindMetadata   Kind = "metaData"
	KindProtocol   Kind = "protocol"
	KindCommitInfo Kind = "commitInfo"
	KindTxn        Kind = "txn"
)

// Action is one record of a commit or checkpoint.
type Action interface {
	Kind() Kind
	sealed()
}

// DeletionVector references the rows of a data file that are logically deleted.
type DeletionVector struct {
	StorageType    string `json:"storageType"`
	PathOrInlineDv string `json:"pathOrInlineDv"`
	Offset         *int32 `json:"offset,omitempty"`
	SizeInBytes    int32  `json:"sizeInBytes"`
	Cardinality    int64  `json:"cardinality"`
}

// AddFile adds a data file to the table.
type AddFile struct {
	Path             string            `json:"path"`
	PartitionValues  map[string]string `json:"partitionValues"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	DataChange       bool              `json:"dataChange"`
	Stats            string            `json:"stats,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	DeletionVector   *DeletionVector   `json:"deletionVector,omitempty"`
}

// normalize makes PartitionValues non-nil and drops empty Tags.
func (a *AddFile) normalize() {
	if a.PartitionValues == nil {
		a.PartitionValues = map[string]string{}
	}
	if len(a.Tags) == 0 {
		a.Tags = nil
	}
}

// RemoveFile logically removes a data file from the table.
type RemoveFile struct {
	Path                 string            `json:"path"`
	DeletionTimestamp    *int64            `json:"deletionTimestamp,omitempty"`
	DataChange           bool              `json:"dataChange"`
	ExtendedFileMetadata bool              `json:"extendedFileMetadata,omitempty"`
	PartitionValues      map[string]string `json:"partitionValues,omitempty"`
	Size                 *int64            `json:"size,omitempty"`
	DeletionVector       *DeletionVector   `json:"deletionVector,omitempty"`
}

func (r *RemoveFile) normalize() {
	if len(r.PartitionValues) == 0 {
		r.PartitionValues = nil
	}
}

// Format describes the encoding of the table's data files.
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options,omitempty"`
}

// Metadata carries the table schema, partitioning and configuration.
type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration,omitempty"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`
}

func (m *Metadata) normalize() {
	if len(m.Format.Options) == 0 {
		m.Format.Options = nil
	}
	if len(m.Configuration) == 0 {
		m.Configuration = nil
	}
	if m.PartitionColumns == nil {
		m.PartitionColumns = []string{}
	}
}

// Protocol carries the reader and writer requirements of the table.
type Protocol struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

func (p *Protocol) normalize() {
	if len(p.ReaderFeatures) == 0 {
		p.ReaderFeatures = nil
	}
	if len(p.WriterFeatures) == 0 {
		p.WriterFeatures = nil
	}
}

// CommitInfo is provenance information written alongside a commit.
type CommitInfo struct {
	Timestamp           int64           `json:"timestamp"`
	Operation           string          `json:"operation,omitempty"`
	OperationParameters json.RawMessage `json:"operationParameters,omitempty"`
}

// Txn records the latest version written by an application.
type Txn struct {
	AppID       string `json:"appId"`
	Version     int64  `json:"version"`
	LastUpdated *int64 `json:"lastUpdated,omitempty"`
}

func (*AddFile) Kind() Kind    { return KindAdd }
func (*RemoveFile) Kind() Kind { return KindRemove }
func (*Metadata) Kind() Kind   { return KindMetadata }
func (*Protocol) Kind() Kind   { return KindProtocol }
func (*CommitInfo) Kind() Kind { return KindCommitInfo }
func (*Txn) Kind() Kind        { return KindTxn }

func (*AddFile) sealed()    {}
func (*RemoveFile) sealed() {}
func (*Metadata) sealed()   {}
func (*Protocol) sealed()   {}
func (*CommitInfo) sealed() {}
func (*Txn) sealed()        {}
