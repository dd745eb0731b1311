package storage

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/dreamware/strata/internal/codec"
)

// Compression selects how a state file is compressed on disk.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression validates a configured compression name. The empty
// string selects zstd.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "":
		return CompressionZstd, nil
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return Compression(s), nil
	}
	return "", errors.Errorf("unknown state compression %q", s)
}

// Persister saves and loads one CBOR-encoded value.
// Load reports false without error when nothing has been saved yet.
type Persister interface {
	Save(v any) error
	Load(v any) (bool, error)
}

// header layout: magic (4) | tag (1) | uncompressed length (8)
var stateMagic = [4]byte{'S', 'T', 'R', 'S'}

const headerSize = 13

// MaxStateSize bounds the uncompressed size a state header may announce.
const MaxStateSize = 1 << 30

// lz4 cannot expand a block by more than this factor.
const lz4MaxRatio = 255

const (
	tagNone byte = iota
	tagZstd
	tagLZ4
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeFrame compresses raw and prefixes the header. Data that does not
// shrink is stored uncompressed.
func encodeFrame(raw []byte, c Compression) []byte {
	tag := tagNone
	body := raw
	switch c {
	case CompressionZstd:
		if out := zstdEncoder.EncodeAll(raw, nil); len(out) < len(raw) {
			tag, body = tagZstd, out
		}
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		if n, err := lz4.CompressBlock(raw, dst, nil); err == nil && n > 0 && n < len(raw) {
			tag, body = tagLZ4, dst[:n]
		}
	}

	frame := make([]byte, headerSize, headerSize+len(body))
	copy(frame, stateMagic[:])
	frame[4] = tag
	binary.BigEndian.PutUint64(frame[5:headerSize], uint64(len(raw)))
	return append(frame, body...)
}

func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < headerSize || !bytes.Equal(frame[:4], stateMagic[:]) {
		return nil, errors.New("state file has no valid header")
	}
	size := binary.BigEndian.Uint64(frame[5:headerSize])
	body := frame[headerSize:]
	if size > MaxStateSize {
		return nil, errors.Errorf("state header announces %d bytes, limit is %d", size, MaxStateSize)
	}
	switch frame[4] {
	case tagNone:
		if uint64(len(body)) != size {
			return nil, errors.Errorf("state body is %d bytes, header says %d", len(body), size)
		}
		return body, nil
	case tagZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, min(size, uint64(4*len(body)))))
		if err != nil {
			return nil, errors.Wrap(err, "zstd decompress")
		}
		if uint64(len(out)) != size {
			return nil, errors.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	case tagLZ4:
		if size > lz4MaxRatio*uint64(len(body)) {
			return nil, errors.Errorf("lz4 body of %d bytes cannot expand to %d", len(body), size)
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, errors.Wrap(err, "lz4 decompress")
		}
		if uint64(n) != size {
			return nil, errors.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported compression tag %d", frame[4])
}

// FileState persists a value to a single file. Writes go to a temporary
// file in the same directory which is then renamed over the target, so a
// crash leaves either the old or the new state.
type FileState struct {
	mu          sync.Mutex
	path        string
	compression Compression
}

// NewFileState creates the parent directory of path if needed.
func NewFileState(path string, c Compression) (*FileState, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create state directory for %s", path)
	}
	return &FileState{path: path, compression: c}, nil
}

// Path returns the file location.
func (f *FileState) Path() string {
	return f.path
}

// Save encodes v and atomically replaces the file.
func (f *FileState) Save(v any) error {
	raw, err := codec.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	frame := encodeFrame(raw, f.compression)

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temporary state file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(frame); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write state")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync state")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close state")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return errors.Wrapf(err, "replace %s", f.path)
	}
	return nil
}

// Load decodes the file into v.
func (f *FileState) Load(v any) (bool, error) {
	f.mu.Lock()
	frame, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read %s", f.path)
	}
	raw, err := decodeFrame(frame)
	if err != nil {
		return false, errors.Wrapf(err, "load %s", f.path)
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return false, errors.Wrapf(err, "decode %s", f.path)
	}
	return true, nil
}

// MemoryState keeps the encoded value in memory. It runs the same framing
// as FileState and is used where no data directory is configured.
type MemoryState struct {
	mu          sync.Mutex
	frame       []byte
	compression Compression
}

// NewMemoryState creates an empty in-memory persister.
func NewMemoryState(c Compression) *MemoryState {
	return &MemoryState{compression: c}
}

// Save encodes v and keeps the frame.
func (m *MemoryState) Save(v any) error {
	raw, err := codec.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	frame := encodeFrame(raw, m.compression)
	m.mu.Lock()
	m.frame = frame
	m.mu.Unlock()
	return nil
}

// Load decodes the last saved frame into v.
func (m *MemoryState) Load(v any) (bool, error) {
	m.mu.Lock()
	frame := m.frame
	m.mu.Unlock()
	if frame == nil {
		return false, nil
	}
	raw, err := decodeFrame(frame)
	if err != nil {
		return false, err
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return false, errors.Wrap(err, "decode state")
	}
	return true, nil
}
