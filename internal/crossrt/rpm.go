package crossrt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	rpmLeadSize      = 96
	rpmMaxIndex      = 0x10000
	rpmMaxStore      = 256 << 20
	rpmTypeString    = 6
	rpmTagPayloadFmt = 1124
	rpmTagPayloadCmp = 1125
)

var (
	rpmLeadMagic   = []byte{0xed, 0xab, 0xee, 0xdb}
	rpmHeaderMagic = []byte{0x8e, 0xad, 0xe8, 0x01}
)

// rpmInfo carries the main header tags the extractor needs.
type rpmInfo struct {
	PayloadFormat     string
	PayloadCompressor string
}

type rpmIndexEntry struct {
	Tag    int32
	Type   uint32
	Offset int32
	Count  uint32
}

// readRPMHeaders consumes the lead, signature and main header from r,
// leaving r positioned at the start of the compressed payload.
func readRPMHeaders(r io.Reader) (*rpmInfo, error) {
	lead := make([]byte, rpmLeadSize)
	if _, err := io.ReadFull(r, lead); err != nil {
		return nil, fmt.Errorf("reading lead: %w", err)
	}
	if !bytes.Equal(lead[:4], rpmLeadMagic) {
		return nil, errors.New("not an RPM file (bad lead magic)")
	}

	// The signature header is padded to an 8-byte boundary.
	if _, _, err := readRPMHeader(r, true); err != nil {
		return nil, fmt.Errorf("signature header: %w", err)
	}

	entries, store, err := readRPMHeader(r, false)
	if err != nil {
		return nil, fmt.Errorf("main header: %w", err)
	}

	info := &rpmInfo{}
	for _, entry := range entries {
		switch entry.Tag {
		case rpmTagPayloadFmt:
			info.PayloadFormat, err = rpmString(entry, store)
		case rpmTagPayloadCmp:
			info.PayloadCompressor, err = rpmString(entry, store)
		}
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

func readRPMHeader(r io.Reader, pad bool) ([]rpmIndexEntry, []byte, error) {
	intro := make([]byte, 16)
	if _, err := io.ReadFull(r, intro); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(intro[:4], rpmHeaderMagic) {
		return nil, nil, errors.New("bad header magic")
	}
	nindex := binary.BigEndian.Uint32(intro[8:12])
	hsize := binary.BigEndian.Uint32(intro[12:16])
	if nindex > rpmMaxIndex || hsize > rpmMaxStore {
		return nil, nil, fmt.Errorf("header too large (%d entries, %d bytes)", nindex, hsize)
	}

	entries := make([]rpmIndexEntry, nindex)
	if err := binary.Read(r, binary.BigEndian, entries); err != nil {
		return nil, nil, fmt.Errorf("index: %w", err)
	}

	store := make([]byte, hsize)
	if _, err := io.ReadFull(r, store); err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}

	if pad {
		if rem := (16*int64(nindex) + int64(hsize)) % 8; rem != 0 {
			if _, err := io.CopyN(io.Discard, r, 8-rem); err != nil {
				return nil, nil, fmt.Errorf("padding: %w", err)
			}
		}
	}
	return entries, store, nil
}

func rpmString(entry rpmIndexEntry, store []byte) (string, error) {
	if entry.Type != rpmTypeString {
		return "", fmt.Errorf("tag %d: unexpected type %d", entry.Tag, entry.Type)
	}
	if entry.Offset < 0 || int(entry.Offset) >= len(store) {
		return "", fmt.Errorf("tag %d: offset %d out of range", entry.Tag, entry.Offset)
	}
	s := store[entry.Offset:]
	end := bytes.IndexByte(s, 0)
	if end < 0 {
		return "", fmt.Errorf("tag %d: unterminated string", entry.Tag)
	}
	return string(s[:end]), nil
}
