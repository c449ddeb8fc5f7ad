package csa

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/passbi/passbi_core/internal/csaerr"
)

const storeFormatVersion = 1

// Save writes the store to w using the on-disk layout from spec §6:
//
//	byte  0     : version = 1
//	byte  1     : sorting {0=none, 1=ByDeparture, 2=ByArrival}
//	bytes 2..9  : int64 count N
//	bytes 10..  : 4*N x u32 packed connections
//	            : N x u32 order permutation
//
// When the store is unsorted, the order section is written as an identity
// permutation — it carries no information but keeps the format's shape
// fixed regardless of sort state.
func (s *ConnectionsStore) Save(w io.Writer) error {
	header := make([]byte, 10)
	header[0] = storeFormatVersion
	header[1] = byte(s.sorting)
	binary.BigEndian.PutUint64(header[2:], uint64(s.Len()))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("csa: write header: %w", err)
	}

	if err := writeUint32s(w, s.words); err != nil {
		return fmt.Errorf("csa: write connections: %w", err)
	}

	order := s.order
	if order == nil {
		order = make([]uint32, s.Len())
		for i := range order {
			order[i] = uint32(i)
		}
	}
	if err := writeUint32s(w, order); err != nil {
		return fmt.Errorf("csa: write order: %w", err)
	}
	return nil
}

// Load reads a store previously written by Save.
func Load(r io.Reader) (*ConnectionsStore, error) {
	header := make([]byte, 10)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", csaerr.ErrTruncatedStream, err)
	}

	version := header[0]
	if version != storeFormatVersion {
		return nil, fmt.Errorf("%w: got %d want %d", csaerr.ErrVersionMismatch, version, storeFormatVersion)
	}

	sortingByte := header[1]
	var sorting SortOrder
	switch sortingByte {
	case 0:
		sorting = SortNone
	case 1:
		sorting = SortByDeparture
	case 2:
		sorting = SortByArrival
	default:
		return nil, fmt.Errorf("%w: %d", csaerr.ErrUnknownSorting, sortingByte)
	}

	n := binary.BigEndian.Uint64(header[2:])

	words := make([]uint32, n*wordsPerConnection)
	if err := readUint32s(r, words); err != nil {
		return nil, fmt.Errorf("%w: connections: %v", csaerr.ErrTruncatedStream, err)
	}

	order := make([]uint32, n)
	if err := readUint32s(r, order); err != nil {
		return nil, fmt.Errorf("%w: order: %v", csaerr.ErrTruncatedStream, err)
	}

	store := &ConnectionsStore{
		words:   words,
		idAtPos: make([]uint32, n),
		posOfID: make([]uint32, n),
		sorting: sorting,
		nextID:  uint32(n),
	}
	// Logical ids are reassigned as identity over physical position: the
	// round-trip contract only requires decode order to match, not that
	// numeric ids survive serialization.
	for i := range store.idAtPos {
		store.idAtPos[i] = uint32(i)
		store.posOfID[i] = uint32(i)
	}

	if sorting != SortNone {
		store.order = order
		store.secondaryIdxOfPos = make([]uint32, n)
		for idx, pos := range order {
			store.secondaryIdxOfPos[pos] = uint32(idx)
		}
	}

	return store, nil
}

func writeUint32s(w io.Writer, values []uint32) error {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(buf[i*4:], v)
	}
	_, err := w.Write(buf)
	return err
}

func readUint32s(r io.Reader, out []uint32) error {
	buf := make([]byte, 4*len(out))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	for i := range out {
		out[i] = binary.BigEndian.Uint32(buf[i*4:])
	}
	return nil
}
