package action

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/florinutz/deltashare/sharingerr"
)

// line is the envelope of one commit line. Exactly one field is set on a
// well-formed line; unknown keys are dropped by encoding/json.
type line struct {
	Add        json.RawMessage `json:"add,omitempty"`
	Remove     json.RawMessage `json:"remove,omitempty"`
	Metadata   json.RawMessage `json:"metaData,omitempty"`
	Protocol   json.RawMessage `json:"protocol,omitempty"`
	CommitInfo json.RawMessage `json:"commitInfo,omitempty"`
	Txn        json.RawMessage `json:"txn,omitempty"`
}

// DecodeCommit decodes a newline-delimited JSON commit. segment names the
// source in errors. The returned actions keep their order within the commit.
func DecodeCommit(segment string, r io.Reader) ([]Action, error) {
	br := bufio.NewReader(r)
	var (
		actions []Action
		lineNo  int64
	)
	for {
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", segment, readErr)
		}
		if len(raw) > 0 {
			lineNo++
			a, err := decodeLine(bytes.TrimSpace(raw))
			if err != nil {
				return nil, &sharingerr.CorruptLogEntryError{Segment: segment, Offset: lineNo, Err: err}
			}
			if a != nil {
				actions = append(actions, a)
			}
		}
		if readErr != nil {
			break
		}
	}
	if len(actions) == 0 {
		return nil, &sharingerr.CorruptLogEntryError{Segment: segment, Offset: lineNo, Err: errors.New("commit contains no actions")}
	}
	return actions, nil
}

// decodeLine returns nil, nil for blank lines and lines that only carry
// action kinds this decoder does not know.
func decodeLine(raw []byte) (Action, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, errors.New("line is not a JSON object")
	}
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}

	var (
		out   Action
		found int
	)
	pick := func(kind Kind, msg json.RawMessage, dst Action) error {
		if msg == nil {
			return nil
		}
		found++
		if bytes.Equal(msg, []byte("null")) {
			return fmt.Errorf("%s action is null", kind)
		}
		if err := json.Unmarshal(msg, dst); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		out = dst
		return nil
	}
	for _, err := range []error{
		pick(KindAdd, l.Add, &AddFile{}),
		pick(KindRemove, l.Remove, &RemoveFile{}),
		pick(KindMetadata, l.Metadata, &Metadata{}),
		pick(KindProtocol, l.Protocol, &Protocol{}),
		pick(KindCommitInfo, l.CommitInfo, &CommitInfo{}),
		pick(KindTxn, l.Txn, &Txn{}),
	} {
		if err != nil {
			return nil, err
		}
	}
	if found > 1 {
		return nil, fmt.Errorf("line carries %d actions, want 1", found)
	}
	switch a := out.(type) {
	case *AddFile:
		if a.Path == "" {
			return nil, errors.New("add action without path")
		}
		a.normalize()
	case *RemoveFile:
		if a.Path == "" {
			return nil, errors.New("remove action without path")
		}
		a.normalize()
	case *Metadata:
		a.normalize()
	case *Protocol:
		a.normalize()
	}
	return out, nil
}

// EncodeCommit writes actions as newline-delimited JSON, one envelope per line.
func EncodeCommit(w io.Writer, actions []Action) error {
	enc := json.NewEncoder(w)
	for i, a := range actions {
		var env map[Kind]Action
		switch a := a.(type) {
		case *AddFile, *RemoveFile, *Metadata, *Protocol, *CommitInfo, *Txn:
			env = map[Kind]Action{a.Kind(): a}
		default:
			return fmt.Errorf("encode action %d: unknown type %T", i, a)
		}
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("encode action %d: %w", i, err)
		}
	}
	return nil
}
