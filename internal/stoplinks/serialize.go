package stoplinks

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/passbi/passbi_core/internal/csaerr"
)

const indexFormatVersion = 1

// Save writes the index to w using the §6 on-disk layout:
//
//	byte  0     : version = 1
//	bytes 1..16 : Guid of the associated road-network db
//	bytes 17..  : length-prefixed UTF-16 profile name
//	bytes +8    : int64 pointer-array length P
//	bytes +8    : int64 data-array length D
//	bytes       : P x u32 pointers
//	bytes       : D x u32 data
func (idx *Index) Save(w io.Writer) error {
	if _, err := w.Write([]byte{indexFormatVersion}); err != nil {
		return fmt.Errorf("stoplinks: write version: %w", err)
	}
	guidBytes, err := idx.RouterDBGuid.MarshalBinary()
	if err != nil {
		return fmt.Errorf("stoplinks: marshal guid: %w", err)
	}
	if _, err := w.Write(guidBytes); err != nil {
		return fmt.Errorf("stoplinks: write guid: %w", err)
	}

	units := utf16.Encode([]rune(idx.ProfileName))
	nameLen := make([]byte, 4)
	binary.BigEndian.PutUint32(nameLen, uint32(len(units)))
	if _, err := w.Write(nameLen); err != nil {
		return fmt.Errorf("stoplinks: write name length: %w", err)
	}
	nameBytes := make([]byte, 2*len(units))
	for i, u := range units {
		binary.BigEndian.PutUint16(nameBytes[i*2:], u)
	}
	if _, err := w.Write(nameBytes); err != nil {
		return fmt.Errorf("stoplinks: write name: %w", err)
	}

	lengths := make([]byte, 16)
	binary.BigEndian.PutUint64(lengths[0:], uint64(len(idx.pointers)))
	binary.BigEndian.PutUint64(lengths[8:], uint64(len(idx.data)))
	if _, err := w.Write(lengths); err != nil {
		return fmt.Errorf("stoplinks: write lengths: %w", err)
	}

	if err := writeUint32s(w, idx.pointers); err != nil {
		return fmt.Errorf("stoplinks: write pointers: %w", err)
	}
	if err := writeUint32s(w, idx.data); err != nil {
		return fmt.Errorf("stoplinks: write data: %w", err)
	}
	return nil
}

// Load reads an index previously written by Save. expectedGuid must match
// the stored road-network db guid, or Load fails open.
func Load(r io.Reader, expectedGuid uuid.UUID) (*Index, error) {
	versionByte := make([]byte, 1)
	if _, err := io.ReadFull(r, versionByte); err != nil {
		return nil, fmt.Errorf("%w: version: %v", csaerr.ErrTruncatedStream, err)
	}
	if versionByte[0] != indexFormatVersion {
		return nil, fmt.Errorf("%w: got %d want %d", csaerr.ErrVersionMismatch, versionByte[0], indexFormatVersion)
	}

	guidBytes := make([]byte, 16)
	if _, err := io.ReadFull(r, guidBytes); err != nil {
		return nil, fmt.Errorf("%w: guid: %v", csaerr.ErrTruncatedStream, err)
	}
	storedGuid, err := uuid.FromBytes(guidBytes)
	if err != nil {
		return nil, fmt.Errorf("stoplinks: parse guid: %w", err)
	}
	if storedGuid != expectedGuid {
		return nil, fmt.Errorf("%w: stored %s want %s", csaerr.ErrGuidMismatch, storedGuid, expectedGuid)
	}

	nameLenBytes := make([]byte, 4)
	if _, err := io.ReadFull(r, nameLenBytes); err != nil {
		return nil, fmt.Errorf("%w: name length: %v", csaerr.ErrTruncatedStream, err)
	}
	nameLen := binary.BigEndian.Uint32(nameLenBytes)
	nameBytes := make([]byte, 2*nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return nil, fmt.Errorf("%w: name: %v", csaerr.ErrTruncatedStream, err)
	}
	units := make([]uint16, nameLen)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(nameBytes[i*2:])
	}
	profileName := string(utf16.Decode(units))

	lengths := make([]byte, 16)
	if _, err := io.ReadFull(r, lengths); err != nil {
		return nil, fmt.Errorf("%w: lengths: %v", csaerr.ErrTruncatedStream, err)
	}
	pointerLen := binary.BigEndian.Uint64(lengths[0:])
	dataLen := binary.BigEndian.Uint64(lengths[8:])

	pointers := make([]uint32, pointerLen)
	if err := readUint32s(r, pointers); err != nil {
		return nil, fmt.Errorf("%w: pointers: %v", csaerr.ErrTruncatedStream, err)
	}
	data := make([]uint32, dataLen)
	if err := readUint32s(r, data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", csaerr.ErrTruncatedStream, err)
	}

	idx := &Index{
		ProfileName:  profileName,
		RouterDBGuid: storedGuid,
		pointers:     pointers,
		data:         data,
		started:      len(pointers) > 0,
	}
	if idx.started {
		idx.lastStop = uint32(len(pointers)/2 - 1)
	}
	return idx, nil
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
