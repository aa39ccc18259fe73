// Package ledger is the durable audit trail of submitted transactions,
// stored in LevelDB.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/logger"
)

var (
	ErrNotFound = errors.New("transaction not recorded")
	ErrExists   = errors.New("transaction already recorded")
)

var (
	recordPrefix = []byte("tx/")
	// senderPrefix indexes records as from/<address>/<nonce>/<hash>.
	senderPrefix = []byte("from/")
)

// Ledger stores Records keyed by transaction hash. The LevelDB file lock
// keeps a second process from opening the same ledger.
type Ledger struct {
	path string
	db   *leveldb.DB
	log  *zap.Logger

	mu sync.Mutex // serialises read-modify-write in Update
}

// Open opens or creates the ledger at path, recovering a corrupted
// manifest if needed.
func Open(path string, log *zap.Logger) (*Ledger, error) {
	log = logger.OrNop(log)
	options := &opt.Options{
		Filter:                 filter.NewBloomFilter(10),
		OpenFilesCacheCapacity: 16,
	}
	db, err := leveldb.OpenFile(path, options)
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		log.Warn("Ledger corrupted, attempting recovery", zap.String("path", path), zap.Error(err))
		db, err = leveldb.RecoverFile(path, options)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	return &Ledger{path: path, db: db, log: log}, nil
}

// Path returns the database directory.
func (l *Ledger) Path() string { return l.path }

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func recordKey(hash common.Hash) []byte {
	return append(append([]byte{}, recordPrefix...), hash.Bytes()...)
}

func senderKeyPrefix(addr common.Address) []byte {
	return append(append([]byte{}, senderPrefix...), addr.Bytes()...)
}

func senderKey(addr common.Address, nonce uint64, hash common.Hash) []byte {
	key := senderKeyPrefix(addr)
	key = binary.BigEndian.AppendUint64(key, nonce)
	return append(key, hash.Bytes()...)
}

var syncWrite = &opt.WriteOptions{Sync: true}

// Put stores a new record. It fails with ErrExists if the hash is already
// recorded. The write is synced before Put returns.
func (l *Ledger) Put(r *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.db.Has(recordKey(r.Hash), nil)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrExists, r.Hash.Hex())
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", r.Hash.Hex(), err)
	}
	batch := new(leveldb.Batch)
	batch.Put(recordKey(r.Hash), data)
	batch.Put(senderKey(r.From, r.Nonce, r.Hash), nil)
	if err := l.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("failed to write record %s: %w", r.Hash.Hex(), err)
	}
	l.log.Debug("Recorded transaction", zap.Stringer("hash", r.Hash), zap.String("status", string(r.Status)))
	return nil
}

// Get returns the record for hash.
func (l *Ledger) Get(hash common.Hash) (*Record, error) {
	data, err := l.db.Get(recordKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", hash.Hex(), err)
	}
	return decode(data)
}

// Update applies fn to the stored record and writes it back. Identity
// fields (hash, sender, nonce) cannot be changed by fn.
func (l *Ledger) Update(hash common.Hash, fn func(*Record) error) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.Get(hash)
	if err != nil {
		return nil, err
	}
	from, nonce := r.From, r.Nonce
	if err := fn(r); err != nil {
		return nil, err
	}
	r.Hash, r.From, r.Nonce = hash, from, nonce

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", hash.Hex(), err)
	}
	if err := l.db.Put(recordKey(hash), data, syncWrite); err != nil {
		return nil, fmt.Errorf("failed to update record %s: %w", hash.Hex(), err)
	}
	return r, nil
}

// List returns records ordered by submission time. A non-nil from limits
// the result to one sender.
func (l *Ledger) List(from *common.Address) ([]*Record, error) {
	var records []*Record
	if from == nil {
		iter := l.db.NewIterator(util.BytesPrefix(recordPrefix), nil)
		for iter.Next() {
			r, err := decode(iter.Value())
			if err != nil {
				iter.Release()
				return nil, err
			}
			records = append(records, r)
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return nil, fmt.Errorf("failed to scan ledger: %w", err)
		}
	} else {
		hashes, err := l.senderHashes(*from)
		if err != nil {
			return nil, err
		}
		for _, h := range hashes {
			r, err := l.Get(h)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SubmittedAt.Before(records[j].SubmittedAt)
	})
	return records, nil
}

// senderHashes returns the hashes sent by addr in ascending nonce order.
func (l *Ledger) senderHashes(addr common.Address) ([]common.Hash, error) {
	prefix := senderKeyPrefix(addr)
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var hashes []common.Hash
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+8+common.HashLength {
			continue
		}
		hashes = append(hashes, common.BytesToHash(key[len(prefix)+8:]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}
	return hashes, nil
}

// HighestNonce returns the highest nonce among addr's Pending and
// Confirmed records. ok is false when there is none.
func (l *Ledger) HighestNonce(addr common.Address) (nonce uint64, ok bool, err error) {
	prefix := senderKeyPrefix(addr)
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for valid := iter.Last(); valid; valid = iter.Prev() {
		key := iter.Key()
		if len(key) != len(prefix)+8+common.HashLength {
			continue
		}
		n := binary.BigEndian.Uint64(key[len(prefix):])
		r, err := l.Get(common.BytesToHash(key[len(prefix)+8:]))
		if err != nil {
			return 0, false, err
		}
		if r.Status == StatusPending || r.Status == StatusConfirmed {
			return n, true, nil
		}
	}
	if err := iter.Error(); err != nil {
		return 0, false, fmt.Errorf("failed to scan ledger: %w", err)
	}
	return 0, false, nil
}

func decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode ledger record: %w", err)
	}
	return &r, nil
}
