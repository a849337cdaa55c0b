package action

import (
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/florinutz/deltashare/sharingerr"
	"github.com/parquet-go/parquet-go"
)

// checkpointRow is the Parquet row layout of a Delta checkpoint. Each row
// has exactly one non-null action column. Columns written by newer writers
// (stats_parsed, domainMetadata, ...) are not mapped and are skipped.
type checkpointRow struct {
	Txn      *checkpointTxn      `parquet:"txn,optional"`
	Add      *checkpointAdd      `parquet:"add,optional"`
	Remove   *checkpointRemove   `parquet:"remove,optional"`
	Metadata *checkpointMetadata `parquet:"metaData,optional"`
	Protocol *checkpointProtocol `parquet:"protocol,optional"`
}

type checkpointTxn struct {
	AppID       string `parquet:"appId"`
	Version     int64  `parquet:"version"`
	LastUpdated *int64 `parquet:"lastUpdated,optional"`
}

type checkpointDeletionVector struct {
	StorageType    string `parquet:"storageType"`
	PathOrInlineDv string `parquet:"pathOrInlineDv"`
	Offset         *int32 `parquet:"offset,optional"`
	SizeInBytes    int32  `parquet:"sizeInBytes"`
	Cardinality    int64  `parquet:"cardinality"`
}

type checkpointAdd struct {
	Path             string                    `parquet:"path"`
	PartitionValues  map[string]string         `parquet:"partitionValues"`
	Size             int64                     `parquet:"size"`
	ModificationTime int64                     `parquet:"modificationTime"`
	DataChange       bool                      `parquet:"dataChange"`
	Stats            *string                   `parquet:"stats,optional"`
	Tags             map[string]string         `parquet:"tags"`
	DeletionVector   *checkpointDeletionVector `parquet:"deletionVector,optional"`
}

type checkpointRemove struct {
	Path                 string                    `parquet:"path"`
	DeletionTimestamp    *int64                    `parquet:"deletionTimestamp,optional"`
	DataChange           bool                      `parquet:"dataChange"`
	ExtendedFileMetadata *bool                     `parquet:"extendedFileMetadata,optional"`
	PartitionValues      map[string]string         `parquet:"partitionValues"`
	Size                 *int64                    `parquet:"size,optional"`
	DeletionVector       *checkpointDeletionVector `parquet:"deletionVector,optional"`
}

type checkpointFormat struct {
	Provider string            `parquet:"provider"`
	Options  map[string]string `parquet:"options"`
}

type checkpointMetadata struct {
	ID               string            `parquet:"id"`
	Name             *string           `parquet:"name,optional"`
	Description      *string           `parquet:"description,optional"`
	Format           checkpointFormat  `parquet:"format"`
	SchemaString     string            `parquet:"schemaString"`
	PartitionColumns []string          `parquet:"partitionColumns,list"`
	Configuration    map[string]string `parquet:"configuration"`
	CreatedTime      *int64            `parquet:"createdTime,optional"`
}

type checkpointProtocol struct {
	MinReaderVersion int32    `parquet:"minReaderVersion"`
	MinWriterVersion int32    `parquet:"minWriterVersion"`
	ReaderFeatures   []string `parquet:"readerFeatures,list"`
	WriterFeatures   []string `parquet:"writerFeatures,list"`
}

const checkpointBatch = 256

// DecodeCheckpoint reads all actions of one checkpoint file (or one part
// of a multi-part checkpoint). Offsets in errors are 0-based row indexes.
func DecodeCheckpoint(segment string, r io.ReaderAt, size int64) ([]Action, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, &sharingerr.CorruptLogEntryError{Segment: segment, Offset: 0, Err: fmt.Errorf("open parquet: %w", err)}
	}

	reader := parquet.NewGenericReader[checkpointRow](f)
	defer func() { _ = reader.Close() }()

	var (
		actions = make([]Action, 0, f.NumRows())
		buf     = make([]checkpointRow, checkpointBatch)
		offset  int64
	)
	for {
		clear(buf)
		n, readErr := reader.Read(buf)
		for i := range n {
			a, err := buf[i].action()
			if err != nil {
				return nil, &sharingerr.CorruptLogEntryError{Segment: segment, Offset: offset + int64(i), Err: err}
			}
			if a != nil {
				actions = append(actions, a)
			}
		}
		offset += int64(n)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, &sharingerr.CorruptLogEntryError{Segment: segment, Offset: offset, Err: readErr}
		}
	}
	return actions, nil
}

// action converts the row into its single action. Rows with no action
// columns set are tolerated and return nil.
func (row *checkpointRow) action() (Action, error) {
	var (
		out   Action
		found int
	)
	if row.Txn != nil {
		found++
		out = &Txn{AppID: row.Txn.AppID, Version: row.Txn.Version, LastUpdated: row.Txn.LastUpdated}
	}
	if a := row.Add; a != nil {
		found++
		if a.Path == "" {
			return nil, errors.New("add action without path")
		}
		add := &AddFile{
			Path:             a.Path,
			PartitionValues:  cloneMap(a.PartitionValues),
			Size:             a.Size,
			ModificationTime: a.ModificationTime,
			DataChange:       a.DataChange,
			Tags:             cloneMap(a.Tags),
			DeletionVector:   a.DeletionVector.toAction(),
		}
		if a.Stats != nil {
			add.Stats = *a.Stats
		}
		add.normalize()
		out = add
	}
	if rm := row.Remove; rm != nil {
		found++
		if rm.Path == "" {
			return nil, errors.New("remove action without path")
		}
		out = &RemoveFile{
			Path:                 rm.Path,
			DeletionTimestamp:    rm.DeletionTimestamp,
			DataChange:           rm.DataChange,
			ExtendedFileMetadata: rm.ExtendedFileMetadata != nil && *rm.ExtendedFileMetadata,
			PartitionValues:      cloneMap(rm.PartitionValues),
			Size:                 rm.Size,
			DeletionVector:       rm.DeletionVector.toAction(),
		}
	}
	if md := row.Metadata; md != nil {
		found++
		m := &Metadata{
			ID:               md.ID,
			Format:           Format{Provider: md.Format.Provider, Options: cloneMap(md.Format.Options)},
			SchemaString:     md.SchemaString,
			PartitionColumns: append([]string{}, md.PartitionColumns...),
			Configuration:    cloneMap(md.Configuration),
			CreatedTime:      md.CreatedTime,
		}
		if md.Name != nil {
			m.Name = *md.Name
		}
		if md.Description != nil {
			m.Description = *md.Description
		}
		out = m
	}
	if p := row.Protocol; p != nil {
		found++
		out = &Protocol{
			MinReaderVersion: int(p.MinReaderVersion),
			MinWriterVersion: int(p.MinWriterVersion),
			ReaderFeatures:   append([]string(nil), p.ReaderFeatures...),
			WriterFeatures:   append([]string(nil), p.WriterFeatures...),
		}
	}
	if found > 1 {
		return nil, fmt.Errorf("row carries %d actions, want 1", found)
	}
	return out, nil
}

func (dv *checkpointDeletionVector) toAction() *DeletionVector {
	if dv == nil {
		return nil
	}
	return &DeletionVector{
		StorageType:    dv.StorageType,
		PathOrInlineDv: dv.PathOrInlineDv,
		Offset:         dv.Offset,
		SizeInBytes:    dv.SizeInBytes,
		Cardinality:    dv.Cardinality,
	}
}

func fromDeletionVector(dv *DeletionVector) *checkpointDeletionVector {
	if dv == nil {
		return nil
	}
	return &checkpointDeletionVector{
		StorageType:    dv.StorageType,
		PathOrInlineDv: dv.PathOrInlineDv,
		Offset:         dv.Offset,
		SizeInBytes:    dv.SizeInBytes,
		Cardinality:    dv.Cardinality,
	}
}

// WriteCheckpoint writes actions as a single-part Parquet checkpoint.
// CommitInfo actions are not part of checkpoints and are skipped.
func WriteCheckpoint(w io.Writer, actions []Action) error {
	rows := make([]checkpointRow, 0, len(actions))
	for i, a := range actions {
		var row checkpointRow
		switch a := a.(type) {
		case *AddFile:
			row.Add = &checkpointAdd{
				Path:             a.Path,
				PartitionValues:  a.PartitionValues,
				Size:             a.Size,
				ModificationTime: a.ModificationTime,
				DataChange:       a.DataChange,
				Tags:             a.Tags,
				DeletionVector:   fromDeletionVector(a.DeletionVector),
			}
			if a.Stats != "" {
				stats := a.Stats
				row.Add.Stats = &stats
			}
		case *RemoveFile:
			ext := a.ExtendedFileMetadata
			row.Remove = &checkpointRemove{
				Path:                 a.Path,
				DeletionTimestamp:    a.DeletionTimestamp,
				DataChange:           a.DataChange,
				ExtendedFileMetadata: &ext,
				PartitionValues:      a.PartitionValues,
				Size:                 a.Size,
				DeletionVector:       fromDeletionVector(a.DeletionVector),
			}
		case *Metadata:
			row.Metadata = &checkpointMetadata{
				ID:               a.ID,
				Format:           checkpointFormat{Provider: a.Format.Provider, Options: a.Format.Options},
				SchemaString:     a.SchemaString,
				PartitionColumns: a.PartitionColumns,
				Configuration:    a.Configuration,
				CreatedTime:      a.CreatedTime,
			}
			if a.Name != "" {
				name := a.Name
				row.Metadata.Name = &name
			}
			if a.Description != "" {
				desc := a.Description
				row.Metadata.Description = &desc
			}
		case *Protocol:
			row.Protocol = &checkpointProtocol{
				MinReaderVersion: int32(a.MinReaderVersion),
				MinWriterVersion: int32(a.MinWriterVersion),
				ReaderFeatures:   a.ReaderFeatures,
				WriterFeatures:   a.WriterFeatures,
			}
		case *Txn:
			row.Txn = &checkpointTxn{AppID: a.AppID, Version: a.Version, LastUpdated: a.LastUpdated}
		case *CommitInfo:
			continue
		default:
			return fmt.Errorf("checkpoint action %d: unknown type %T", i, a)
		}
		rows = append(rows, row)
	}

	pw := parquet.NewGenericWriter[checkpointRow](w, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write checkpoint rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close checkpoint writer: %w", err)
	}
	return nil
}

// cloneMap copies m, folding empty maps to nil so that checkpoint and JSON
// decoding agree on absent maps.
func cloneMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}
