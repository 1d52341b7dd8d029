// Package merkle splits file content into fixed size segments and derives the
// content address (root hash) of a file from the segment hashes.
//
// Hashing:
//   - segment hash: keccak256(segment bytes)
//   - parent node:  keccak256(left || right)
//   - an odd node at the end of a level is carried up unchanged
//   - a file with no segments hashes to keccak256 of the empty input
//
// Usage:
//
//	var hashes []common.Hash
//	err := merkle.Split(f, merkle.DefaultSegmentSize, func(s merkle.Segment) error {
//	    hashes = append(hashes, s.Hash)
//	    return store.Put(s.Hash.Hex(), s.Data)
//	})
//	root := merkle.Root(hashes)
package merkle

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSegmentSize is the segment length used by the storage node.
const DefaultSegmentSize = 256 * 1024

// Segment is one slice of a file. Data is only valid for the duration of the
// Split callback.
type Segment struct {
	Index  int
	Offset int64
	Hash   common.Hash
	Data   []byte
}

// Split reads r to EOF in segments of size bytes and hands every segment to
// fn in order. The last segment may be shorter.
func Split(r io.Reader, size int, fn func(Segment) error) error {
	if size <= 0 {
		return fmt.Errorf("invalid segment size %d", size)
	}

	buf := make([]byte, size)
	var offset int64
	for index := 0; ; index++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			seg := Segment{
				Index:  index,
				Offset: offset,
				Hash:   HashSegment(buf[:n]),
				Data:   buf[:n],
			}
			if cbErr := fn(seg); cbErr != nil {
				return cbErr
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read segment %d: %w", index, err)
		}
	}
}

// HashSegment returns the keccak256 hash of data.
func HashSegment(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}

// Root builds the merkle tree bottom-up over hashes and returns its root.
func Root(hashes []common.Hash) common.Hash {
	if len(hashes) == 0 {
		return crypto.Keccak256Hash(nil)
	}

	level := append([]common.Hash(nil), hashes...)
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, crypto.Keccak256Hash(level[i].Bytes(), level[i+1].Bytes()))
		}
		level = next
	}
	return level[0]
}

// RootOf segments r and returns the root together with the segment hashes.
func RootOf(r io.Reader, size int) (common.Hash, []common.Hash, error) {
	var hashes []common.Hash
	err := Split(r, size, func(s Segment) error {
		hashes = append(hashes, s.Hash)
		return nil
	})
	if err != nil {
		return common.Hash{}, nil, err
	}
	return Root(hashes), hashes, nil
}

// IsRootHash reports whether s is a 0x-prefixed 32-byte hex string.
func IsRootHash(s string) bool {
	if len(s) != 2+2*common.HashLength || !(s[:2] == "0x" || s[:2] == "0X") {
		return false
	}
	for _, c := range s[2:] {
		if !isHex(c) {
			return false
		}
	}
	return true
}

func isHex(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
