package index

import (
	"bufio"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Binary layout, little endian:
//
//	magic   uint32 ("AIX1")
//	version uint32
//	dim     uint32
//	count   uint32
//	count * { idLen uint16, id []byte, vector [dim]float32 }
//	crc32   uint32 (IEEE, over every preceding byte)
const (
	magicNumber   uint32 = 0x41495831
	formatVersion uint32 = 1
	maxIDLength          = 1 << 10
)

var (
	ErrInvalidMagic   = goerr.New("invalid index magic number")
	ErrInvalidVersion = goerr.New("unsupported index format version")
	ErrChecksum       = goerr.New("index checksum mismatch")
	ErrCorrupted      = goerr.New("index file is corrupted")
)

type checksumWriter struct {
	w    io.Writer
	hash hash.Hash32
}

func (cw *checksumWriter) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

// Encode writes live vectors in slot order followed by a CRC32 trailer
func (x *Index) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cw := &checksumWriter{w: bw, hash: crc32.NewIEEE()}

	ids := x.IDs()
	header := []uint32{magicNumber, formatVersion, uint32(x.dim), uint32(len(ids))}
	if err := binary.Write(cw, binary.LittleEndian, header); err != nil {
		return goerr.Wrap(err, "failed to write index header")
	}

	for _, id := range ids {
		if len(id) > maxIDLength {
			return goerr.Wrap(ErrCorrupted, "id too long", goerr.V("id", id))
		}
		if err := binary.Write(cw, binary.LittleEndian, uint16(len(id))); err != nil {
			return goerr.Wrap(err, "failed to write id length", goerr.V("id", id))
		}
		if _, err := io.WriteString(cw, string(id)); err != nil {
			return goerr.Wrap(err, "failed to write id", goerr.V("id", id))
		}
		if err := binary.Write(cw, binary.LittleEndian, x.vectors[x.slots[id]]); err != nil {
			return goerr.Wrap(err, "failed to write vector", goerr.V("id", id))
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, cw.hash.Sum32()); err != nil {
		return goerr.Wrap(err, "failed to write index checksum")
	}
	if err := bw.Flush(); err != nil {
		return goerr.Wrap(err, "failed to flush index")
	}
	return nil
}

// Decode reads an index written by Encode. Slots are assigned in stored order.
func Decode(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	crc := crc32.NewIEEE()
	tr := io.TeeReader(br, crc)

	var header [4]uint32
	if err := binary.Read(tr, binary.LittleEndian, &header); err != nil {
		return nil, goerr.Wrap(ErrCorrupted, "failed to read index header", goerr.V("cause", err.Error()))
	}
	if header[0] != magicNumber {
		return nil, goerr.Wrap(ErrInvalidMagic, "failed to decode index", goerr.V("magic", header[0]))
	}
	if header[1] != formatVersion {
		return nil, goerr.Wrap(ErrInvalidVersion, "failed to decode index", goerr.V("version", header[1]))
	}

	dim, count := int(header[2]), int(header[3])
	x, err := New(dim)
	if err != nil {
		return nil, goerr.Wrap(ErrCorrupted, "invalid dimension in index header", goerr.V("dim", dim))
	}

	for i := 0; i < count; i++ {
		var idLen uint16
		if err := binary.Read(tr, binary.LittleEndian, &idLen); err != nil {
			return nil, goerr.Wrap(ErrCorrupted, "failed to read id length", goerr.V("entry", i))
		}
		if idLen == 0 || int(idLen) > maxIDLength {
			return nil, goerr.Wrap(ErrCorrupted, "invalid id length", goerr.V("entry", i), goerr.V("length", idLen))
		}
		raw := make([]byte, idLen)
		if _, err := io.ReadFull(tr, raw); err != nil {
			return nil, goerr.Wrap(ErrCorrupted, "failed to read id", goerr.V("entry", i))
		}
		vec := make([]float32, dim)
		if err := binary.Read(tr, binary.LittleEndian, vec); err != nil {
			return nil, goerr.Wrap(ErrCorrupted, "failed to read vector", goerr.V("entry", i))
		}
		if err := x.Insert(model.ActivityID(raw), vec); err != nil {
			return nil, goerr.Wrap(ErrCorrupted, "invalid index entry", goerr.V("entry", i), goerr.V("cause", err.Error()))
		}
	}

	expected := crc.Sum32()
	var stored uint32
	if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
		return nil, goerr.Wrap(ErrCorrupted, "failed to read index checksum")
	}
	if stored != expected {
		return nil, goerr.Wrap(ErrChecksum, "failed to decode index", goerr.V("stored", stored), goerr.V("computed", expected))
	}
	return x, nil
}
