package accounts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/klauspost/compress/zstd"
)

const snapshotVersion uint32 = 2

// snapshotMagic identifies an accounts snapshot stream.
var snapshotMagic = [4]byte{'X', '1', 'C', 'S'}

// headerSize is magic (4) + version (4) + slot (8) + count (8) + state hash (32).
const headerSize = 56

// loadBatchSize bounds how many accounts are buffered before Apply.
const loadBatchSize = 256

// ErrSnapshotCorrupt is returned when a snapshot's contents do not match its header.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// SnapshotHeader describes a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	StateHash     types.Hash
}

func (h SnapshotHeader) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf, snapshotMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint64(buf[8:], h.Slot)
	binary.LittleEndian.PutUint64(buf[16:], h.AccountsCount)
	copy(buf[24:], h.StateHash[:])
	return buf
}

// ReadSnapshotHeader reads and validates the uncompressed header.
func ReadSnapshotHeader(r io.Reader) (SnapshotHeader, error) {
	var h SnapshotHeader
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if [4]byte(buf[:4]) != snapshotMagic {
		return h, fmt.Errorf("invalid snapshot magic %q", buf[:4])
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	if h.Version != snapshotVersion {
		return h, fmt.Errorf("unsupported snapshot version: %d", h.Version)
	}
	h.Slot = binary.LittleEndian.Uint64(buf[8:])
	h.AccountsCount = binary.LittleEndian.Uint64(buf[16:])
	copy(h.StateHash[:], buf[24:])
	return h, nil
}

// WriteSnapshot streams every account in db to w.
// Layout: header, then a zstd stream of (pubkey, u32 size, serialized account) records.
func WriteSnapshot(db DB, w io.Writer) (SnapshotHeader, error) {
	stateHash, err := ComputeStateHash(db)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("compute state hash: %w", err)
	}
	count, err := db.AccountsCount()
	if err != nil {
		return SnapshotHeader{}, err
	}
	header := SnapshotHeader{
		Version:       snapshotVersion,
		Slot:          db.GetSlot(),
		AccountsCount: count,
		StateHash:     stateHash,
	}
	if _, err := w.Write(header.encode()); err != nil {
		return header, fmt.Errorf("write header: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return header, fmt.Errorf("init zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)

	var written uint64
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		if _, err := bw.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := bw.Write(size[:]); err != nil {
			return err
		}
		_, err := bw.Write(data)
		written++
		return err
	})
	if err != nil {
		zw.Close()
		return header, fmt.Errorf("write accounts: %w", err)
	}
	if written != count {
		zw.Close()
		return header, fmt.Errorf("accounts changed during snapshot: counted %d, wrote %d", count, written)
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return header, err
	}
	return header, zw.Close()
}

// LoadSnapshot replaces the contents of db with the snapshot read from r and
// verifies the resulting state hash against the header.
func LoadSnapshot(db DB, r io.Reader) (SnapshotHeader, error) {
	header, err := ReadSnapshotHeader(r)
	if err != nil {
		return header, err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return header, fmt.Errorf("init zstd reader: %w", err)
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	if err := resetDB(db); err != nil {
		return header, err
	}

	batch := make([]AccountEntry, 0, loadBatchSize)
	for i := uint64(0); i < header.AccountsCount; i++ {
		pubkey, account, err := readRecord(br)
		if err != nil {
			return header, fmt.Errorf("record %d: %w", i, err)
		}
		batch = append(batch, AccountEntry{Pubkey: pubkey, Account: account})
		if len(batch) == loadBatchSize {
			if err := db.Apply(batch); err != nil {
				return header, err
			}
			batch = batch[:0]
		}
	}
	if err := db.Apply(batch); err != nil {
		return header, err
	}
	if err := db.SetSlot(header.Slot); err != nil {
		return header, err
	}
	if err := db.Commit(); err != nil {
		return header, err
	}

	got, err := ComputeStateHash(db)
	if err != nil {
		return header, err
	}
	if got != header.StateHash {
		return header, fmt.Errorf("%w: state hash %s, header %s", ErrSnapshotCorrupt, got, header.StateHash)
	}
	return header, nil
}

func readRecord(r io.Reader) (types.Pubkey, *Account, error) {
	var pubkey types.Pubkey
	if _, err := io.ReadFull(r, pubkey[:]); err != nil {
		return pubkey, nil, fmt.Errorf("read pubkey: %w", err)
	}
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return pubkey, nil, fmt.Errorf("read size: %w", err)
	}
	n := binary.LittleEndian.Uint32(size[:])
	if n > MaxAccountDataSize+serializedOverhead {
		return pubkey, nil, fmt.Errorf("%w: account size %d", ErrSnapshotCorrupt, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return pubkey, nil, fmt.Errorf("read account: %w", err)
	}
	account, err := DeserializeAccount(data)
	return pubkey, account, err
}

func resetDB(db DB) error {
	r, ok := db.(interface{ reset() error })
	if !ok {
		return fmt.Errorf("snapshot load unsupported for %T", db)
	}
	return r.reset()
}

// SaveSnapshotFile writes a snapshot of db to path, creating parent directories.
func SaveSnapshotFile(db DB, path string) (SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return SnapshotHeader{}, fmt.Errorf("create snapshot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("create snapshot file: %w", err)
	}
	header, err := WriteSnapshot(db, f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return header, err
	}
	return header, f.Close()
}

// LoadSnapshotFile loads the snapshot at path into db.
func LoadSnapshotFile(db DB, path string) (SnapshotHeader, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return SnapshotHeader{}, ErrSnapshotNotFound
	}
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return LoadSnapshot(db, bufio.NewReader(f))
}
