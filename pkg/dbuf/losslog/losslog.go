// Package losslog durably records every dirty-write-loss event the sync
// path reports (spec.md §7.3 "dirty_writes_lost"): bytes that were
// accepted into a dirty record whose backing write failed. The sync path
// reports every failed attempt, including ones whose record it re-queues
// for a later sync, so an entry marks bytes at risk rather than a
// confirmed permanent loss. Recording this outside the
// process lets an operator audit data loss after a crash that also took
// the metrics process down.
//
// Grounded on the teacher's use of github.com/dgraph-io/badger/v4 as an
// embedded, crash-safe KV store (pkg/metadata/store/badger in the
// teacher repo uses the same engine for its own durable records).
package losslog

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dbufcache/pkg/dbuf"
)

// Entry is one recorded loss event.
type Entry struct {
	Coord   dbuf.Coord
	TXG     uint64
	Bytes   int
	At      time.Time
	Message string
}

// Log is a badger-backed append-mostly ledger of loss entries, keyed so
// entries for the same coordinate sort together by TXG.
type Log struct {
	db *badger.DB
}

// Open opens (or creates) the ledger at dir.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("losslog: open %s: %w", dir, err)
	}
	return &Log{db: db}, nil
}

// Record appends e to the ledger.
func (l *Log) Record(e Entry) error {
	key := entryKey(e.Coord, e.TXG)
	val := encodeEntry(e)
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// TotalBytesLost sums every recorded entry's byte count.
func (l *Log) TotalBytesLost() (int64, error) {
	var total int64
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				if len(val) < 8 {
					return nil
				}
				total += int64(binary.LittleEndian.Uint64(val[:8]))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return total, err
}

// Close releases the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// ReportLoss implements dbuf.LossReporter, letting a Log be wired
// directly into dbuf.WithLossReporter without dbuf importing this
// package.
func (l *Log) ReportLoss(c dbuf.Coord, txgNum uint64, bytes int) {
	_ = l.Record(Entry{Coord: c, TXG: txgNum, Bytes: bytes, At: time.Now()})
}

func entryKey(c dbuf.Coord, txgNum uint64) []byte {
	key := make([]byte, 0, len(c.Dataset)+1+8+4+8+8)
	key = append(key, []byte(c.Dataset)...)
	key = append(key, 0)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.Object)
	key = append(key, buf[:]...)
	var lvl [4]byte
	binary.BigEndian.PutUint32(lvl[:], uint32(c.Level))
	key = append(key, lvl[:]...)
	binary.BigEndian.PutUint64(buf[:], c.BlockID)
	key = append(key, buf[:]...)
	binary.BigEndian.PutUint64(buf[:], txgNum)
	key = append(key, buf[:]...)
	return key
}

func encodeEntry(e Entry) []byte {
	msg := []byte(e.Message)
	out := make([]byte, 8+8+2+len(msg))
	binary.LittleEndian.PutUint64(out[0:8], uint64(e.Bytes))
	binary.LittleEndian.PutUint64(out[8:16], uint64(e.At.UnixNano()))
	binary.LittleEndian.PutUint16(out[16:18], uint16(len(msg)))
	copy(out[18:], msg)
	return out
}
