package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Deletion vector storage types.
const (
	DVInline   = "i"
	DVRelative = "u"
	DVAbsolute = "p"
)

const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Index = func() (idx [256]int8) {
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(z85Alphabet); i++ {
		idx[z85Alphabet[i]] = int8(i)
	}
	return idx
}()

// z85Decode decodes Z85 text whose length is a multiple of 5.
func z85Decode(s string) ([]byte, error) {
	if len(s)%5 != 0 {
		return nil, fmt.Errorf("z85 length %d is not a multiple of 5", len(s))
	}
	out := make([]byte, 0, len(s)/5*4)
	for i := 0; i < len(s); i += 5 {
		var v uint64
		for j := range 5 {
			d := z85Index[s[i+j]]
			if d < 0 {
				return nil, fmt.Errorf("invalid z85 character %q", s[i+j])
			}
			v = v*85 + uint64(d)
		}
		if v > 0xffffffff {
			return nil, errors.New("z85 block overflows 32 bits")
		}
		out = append(out, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return out, nil
}

// IsInline reports whether the vector's bitmap is stored in the log itself.
func (dv *DeletionVector) IsInline() bool {
	return dv.StorageType == DVInline
}

// AbsolutePath returns the location of the vector's file. Relative vectors
// encode an optional directory prefix followed by a Z85 UUID of 20
// characters and live under tableRoot.
func (dv *DeletionVector) AbsolutePath(tableRoot string) (string, error) {
	switch dv.StorageType {
	case DVAbsolute:
		return dv.PathOrInlineDv, nil
	case DVRelative:
		enc := dv.PathOrInlineDv
		if len(enc) < 20 {
			return "", fmt.Errorf("deletion vector path %q too short", enc)
		}
		prefix, encID := enc[:len(enc)-20], enc[len(enc)-20:]
		raw, err := z85Decode(encID)
		if err != nil {
			return "", fmt.Errorf("decode deletion vector id: %w", err)
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return "", fmt.Errorf("decode deletion vector id: %w", err)
		}
		name := "deletion_vector_" + id.String() + ".bin"
		root := strings.TrimRight(tableRoot, "/")
		if prefix != "" {
			return root + "/" + prefix + "/" + name, nil
		}
		return root + "/" + name, nil
	case DVInline:
		return "", errors.New("inline deletion vector has no file")
	default:
		return "", fmt.Errorf("unknown deletion vector storage type %q", dv.StorageType)
	}
}
