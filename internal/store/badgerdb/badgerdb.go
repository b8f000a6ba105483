// Package badgerdb is a persistent piece backend for the reference store,
// built on badger. Keys sort by name, version and write sequence so a
// prefix scan yields pieces in write order.
package badgerdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/patina/dxspaces/internal/store"
	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/ndarray"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	piecePrefix = []byte("p/")
	seqKey      = []byte("seq/pieces")
)

type pieceHeader struct {
	Type        ndarray.Type `json:"type"`
	ElementSize int          `json:"element_size"`
	Shape       []int64      `json:"shape"`
	Offset      []int64      `json:"offset"`
}

// Backend stores pieces in a badger database
type Backend struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ store.Backend = (*Backend)(nil)

// Open opens or creates a database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Backend, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	seq, err := db.GetSequence(seqKey, 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get piece sequence: %w", err)
	}
	return &Backend{db: db, seq: seq}, nil
}

func (b *Backend) Save(ctx context.Context, name string, version uint, arr *ndarray.Array) error {
	n, err := b.seq.Next()
	if err != nil {
		return err
	}
	val, err := encodePiece(arr)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pieceKey(name, version, n), val)
	})
}

func (b *Backend) Load(ctx context.Context, name string, version uint) ([]*ndarray.Array, error) {
	prefix := versionPrefix(name, version)

	var pieces []*ndarray.Array
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				arr, err := decodePiece(val, true)
				if err != nil {
					return err
				}
				pieces = append(pieces, arr)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return pieces, err
}

func (b *Backend) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = piecePrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(piecePrefix); it.Valid(); it.Next() {
			name, ok := nameFromKey(it.Item().Key())
			if !ok {
				continue
			}
			if len(names) == 0 || names[len(names)-1] != name {
				names = append(names, name)
			}
		}
		return nil
	})
	return names, err
}

func (b *Backend) Objects(ctx context.Context, name string) ([]fabric.ObjectInfo, error) {
	prefix := namePrefix(name)

	var objs []fabric.ObjectInfo
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefix)+16 {
				continue
			}
			version := uint(binary.BigEndian.Uint64(key[len(prefix):]))
			err := item.Value(func(val []byte) error {
				arr, err := decodePiece(val, false)
				if err != nil {
					return err
				}
				objs = append(objs, fabric.ObjectInfo{Name: name, Version: version, LB: arr.Lower(), UB: arr.Upper()})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return objs, err
}

func (b *Backend) Close() error {
	if err := b.seq.Release(); err != nil {
		b.db.Close()
		return err
	}
	return b.db.Close()
}

// p/<name>\x00<version uint64><seq uint64>
func pieceKey(name string, version uint, seq uint64) []byte {
	k := versionPrefix(name, version)
	return binary.BigEndian.AppendUint64(k, seq)
}

func versionPrefix(name string, version uint) []byte {
	return binary.BigEndian.AppendUint64(namePrefix(name), uint64(version))
}

func namePrefix(name string) []byte {
	k := make([]byte, 0, len(piecePrefix)+len(name)+17)
	k = append(k, piecePrefix...)
	k = append(k, name...)
	return append(k, 0)
}

func nameFromKey(key []byte) (string, bool) {
	if !bytes.HasPrefix(key, piecePrefix) || len(key) < len(piecePrefix)+17 {
		return "", false
	}
	return string(key[len(piecePrefix) : len(key)-17]), true
}

// value layout: uint32 header length, JSON header, raw element data
func encodePiece(arr *ndarray.Array) ([]byte, error) {
	hdr, err := json.Marshal(pieceHeader{
		Type:        arr.Type,
		ElementSize: arr.ElementSize,
		Shape:       arr.Shape,
		Offset:      arr.Offset,
	})
	if err != nil {
		return nil, err
	}
	val := make([]byte, 0, 4+len(hdr)+len(arr.Data))
	val = binary.BigEndian.AppendUint32(val, uint32(len(hdr)))
	val = append(val, hdr...)
	return append(val, arr.Data...), nil
}

func decodePiece(val []byte, withData bool) (*ndarray.Array, error) {
	if len(val) < 4 {
		return nil, fmt.Errorf("piece value too short: %d bytes", len(val))
	}
	n := int(binary.BigEndian.Uint32(val))
	if len(val) < 4+n {
		return nil, fmt.Errorf("piece header truncated")
	}
	var hdr pieceHeader
	if err := json.Unmarshal(val[4:4+n], &hdr); err != nil {
		return nil, fmt.Errorf("piece header: %w", err)
	}
	arr := &ndarray.Array{
		Type:        hdr.Type,
		ElementSize: hdr.ElementSize,
		Shape:       hdr.Shape,
		Offset:      hdr.Offset,
	}
	if withData {
		// val is only valid inside the transaction
		arr.Data = bytes.Clone(val[4+n:])
	}
	return arr, nil
}
