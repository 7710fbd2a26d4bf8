// Package ledger provides persistent storage for executed transactions and
// the events they emitted, indexed by signature, address, slot and program.
package ledger

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

var (
	// ErrTransactionNotFound is returned when a signature is unknown.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

var (
	bucketTxBySignature     = []byte("tx_by_sig")
	bucketAddressSignatures = []byte("addr_sigs")
	bucketSlotTransactions  = []byte("slot_txs")
	bucketEvents            = []byte("events")
	bucketMetadata          = []byte("metadata")
)

var (
	keyLatestSlot       = []byte("latest_slot")
	keySequence         = []byte("sequence")
	keyTransactionCount = []byte("transaction_count")
	keyFailedCount      = []byte("failed_count")
	keyEventCount       = []byte("event_count")
)

// Config holds ledger configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// EventFilter selects inner instructions stored as events. Nil stores none.
	EventFilter func(ix svm.Instruction) bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Store is a bbolt-backed ledger. It implements runtime.Recorder.
type Store struct {
	db     *bolt.DB
	config Config
	log    *slog.Logger

	mu     sync.RWMutex
	stats  Stats
	seq    uint64
	closed bool
}

// Open creates or opens a ledger.
func Open(config Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, config: config, log: logger.With("component", "ledger")}

	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketTxBySignature,
			bucketAddressSignatures,
			bucketSlotTransactions,
			bucketEvents,
			bucketMetadata,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		s.stats.LatestSlot = decodeU64(meta.Get(keyLatestSlot))
		s.stats.TransactionCount = decodeU64(meta.Get(keyTransactionCount))
		s.stats.FailedCount = decodeU64(meta.Get(keyFailedCount))
		s.stats.EventCount = decodeU64(meta.Get(keyEventCount))
		s.seq = decodeU64(meta.Get(keySequence))
		return nil
	})
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Record stores an execution result. Simulated results are ignored.
func (s *Store) Record(res *runtime.Result) error {
	if res.Simulated {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	seq := s.seq + 1
	rec := newRecord(res, seq)
	recData, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	sigInfo, err := encode(&SignatureInfo{
		Signature: rec.Signature,
		Slot:      rec.Slot,
		BlockTime: rec.BlockTime,
		Success:   rec.Success,
		Err:       rec.Err,
	})
	if err != nil {
		return fmt.Errorf("encode sig info: %w", err)
	}

	var events []EventRecord
	if s.config.EventFilter != nil && rec.Success {
		for _, inner := range rec.InnerInstructions {
			if s.config.EventFilter(inner.Instruction()) {
				events = append(events, EventRecord{
					Signature: rec.Signature,
					Slot:      rec.Slot,
					Program:   inner.ProgramID,
					Data:      inner.Data,
				})
			}
		}
	}

	stats := s.stats
	stats.TransactionCount++
	if !rec.Success {
		stats.FailedCount++
	}
	stats.EventCount += uint64(len(events))
	if rec.Slot > stats.LatestSlot {
		stats.LatestSlot = rec.Slot
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTxBySignature).Put(rec.Signature[:], recData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSlotTransactions).Put(encodeSlotKey(rec.Slot, seq), rec.Signature[:]); err != nil {
			return err
		}

		addrSigs := tx.Bucket(bucketAddressSignatures)
		for _, addr := range rec.AccountKeys {
			if err := addrSigs.Put(encodeAddressKey(addr, seq), sigInfo); err != nil {
				return err
			}
		}

		eventsBucket := tx.Bucket(bucketEvents)
		for i := range events {
			data, err := encode(&events[i])
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			if err := eventsBucket.Put(encodeEventKey(events[i].Program, seq, uint16(i)), data); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMetadata)
		for k, v := range map[string]uint64{
			string(keySequence):         seq,
			string(keyLatestSlot):       stats.LatestSlot,
			string(keyTransactionCount): stats.TransactionCount,
			string(keyFailedCount):      stats.FailedCount,
			string(keyEventCount):       stats.EventCount,
		} {
			if err := meta.Put([]byte(k), encodeU64(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.seq = seq
	s.stats = stats
	return nil
}

// GetTransaction retrieves a transaction by signature.
func (s *Store) GetTransaction(sig runtime.Signature) (*TransactionRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rec TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTxBySignature).Get(sig[:])
		if data == nil {
			return ErrTransactionNotFound
		}
		return decode(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetSignaturesForAddress returns the transactions that referenced addr.
func (s *Store) GetSignaturesForAddress(addr types.Pubkey, opts *QueryOptions) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	opts = normalize(opts)

	var out []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		start, err := startSeq(tx, opts)
		if err != nil {
			return err
		}
		return scanBackward(tx.Bucket(bucketAddressSignatures), addr[:], start, func(_, v []byte) (bool, error) {
			var info SignatureInfo
			if err := decode(v, &info); err != nil {
				return false, err
			}
			if info.Slot < opts.MinSlot {
				return false, nil
			}
			out = append(out, info)
			return len(out) < opts.Limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEvents returns events emitted through program.
func (s *Store) GetEvents(program types.Pubkey, opts *QueryOptions) ([]EventRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	opts = normalize(opts)

	var out []EventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		start, err := startSeq(tx, opts)
		if err != nil {
			return err
		}
		return scanBackward(tx.Bucket(bucketEvents), program[:], start, func(_, v []byte) (bool, error) {
			var ev EventRecord
			if err := decode(v, &ev); err != nil {
				return false, err
			}
			if ev.Slot < opts.MinSlot {
				return false, nil
			}
			out = append(out, ev)
			return len(out) < opts.Limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransactionsForSlot returns the signatures recorded in slot, in
// execution order.
func (s *Store) GetTransactionsForSlot(slot uint64) ([]runtime.Signature, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var sigs []runtime.Signature
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSlotTransactions).Cursor()
		prefix := encodeU64(slot)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sig runtime.Signature
			copy(sig[:], v)
			sigs = append(sigs, sig)
		}
		return nil
	})
	return sigs, err
}

// Prune removes transactions older than the latest slot minus keepSlots
// and returns how many were removed.
func (s *Store) Prune(keepSlots uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.stats.LatestSlot <= keepSlots {
		return 0, nil
	}
	cutoff := s.stats.LatestSlot - keepSlots

	var removed, removedFailed, removedEvents uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		txBySig := tx.Bucket(bucketTxBySignature)
		addrSigs := tx.Bucket(bucketAddressSignatures)
		events := tx.Bucket(bucketEvents)
		slots := tx.Bucket(bucketSlotTransactions)

		var slotKeys [][]byte
		c := slots.Cursor()
		for k, v := c.First(); k != nil && decodeU64(k) < cutoff; k, v = c.Next() {
			slotKeys = append(slotKeys, append([]byte(nil), k...))
			data := txBySig.Get(v)
			if data == nil {
				continue
			}
			var rec TransactionRecord
			if err := decode(data, &rec); err != nil {
				return fmt.Errorf("decode transaction: %w", err)
			}
			for _, addr := range rec.AccountKeys {
				if err := addrSigs.Delete(encodeAddressKey(addr, rec.Seq)); err != nil {
					return err
				}
			}
			prefixes := make(map[types.Pubkey]struct{})
			for _, inner := range rec.InnerInstructions {
				prefixes[inner.ProgramID] = struct{}{}
			}
			for program := range prefixes {
				n, err := deletePrefix(events, encodeAddressKey(program, rec.Seq))
				if err != nil {
					return err
				}
				removedEvents += n
			}
			if err := txBySig.Delete(rec.Signature[:]); err != nil {
				return err
			}
			removed++
			if !rec.Success {
				removedFailed++
			}
		}
		for _, k := range slotKeys {
			if err := slots.Delete(k); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyTransactionCount, encodeU64(s.stats.TransactionCount-removed)); err != nil {
			return err
		}
		if err := meta.Put(keyFailedCount, encodeU64(s.stats.FailedCount-removedFailed)); err != nil {
			return err
		}
		return meta.Put(keyEventCount, encodeU64(s.stats.EventCount-removedEvents))
	})
	if err != nil {
		return 0, err
	}

	s.stats.TransactionCount -= removed
	s.stats.FailedCount -= removedFailed
	s.stats.EventCount -= removedEvents
	if removed > 0 {
		s.log.Info("pruned ledger", "removed", removed, "cutoff_slot", cutoff)
	}
	return removed, nil
}

// GetStats returns ledger statistics.
func (s *Store) GetStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	stats := s.stats
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return &stats, nil
}

// Close closes the ledger.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func normalize(opts *QueryOptions) *QueryOptions {
	if opts == nil {
		opts = &QueryOptions{}
	}
	out := *opts
	if out.Limit <= 0 {
		out.Limit = DefaultLimit
	}
	return &out
}

// startSeq returns the exclusive upper bound of a backward scan.
func startSeq(tx *bolt.Tx, opts *QueryOptions) (uint64, error) {
	if opts.Before == nil {
		return ^uint64(0), nil
	}
	data := tx.Bucket(bucketTxBySignature).Get(opts.Before[:])
	if data == nil {
		return 0, ErrTransactionNotFound
	}
	var rec TransactionRecord
	if err := decode(data, &rec); err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

// scanBackward visits keys [prefix][seq]... with seq < before, newest first,
// until fn returns false.
func scanBackward(b *bolt.Bucket, prefix []byte, before uint64, fn func(k, v []byte) (bool, error)) error {
	c := b.Cursor()
	seek := append(append([]byte(nil), prefix...), encodeU64(before)...)

	k, v := c.Seek(seek)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
		more, err := fn(k, v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func deletePrefix(b *bolt.Bucket, prefix []byte) (uint64, error) {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return uint64(len(keys)), nil
}

var _ runtime.Recorder = (*Store)(nil)
