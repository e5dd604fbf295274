// mmaplog.go gives the simulated backend an optional on-disk durability
// log: an append-only, memory-mapped record of every block write it has
// accepted, replayed on restart so a simulated ARC can survive a process
// crash the way the real one's backing pool does.
//
// File format (append-only log, crash safe because every write either
// lands fully or not at all before the header's NextOffset advances):
//
//	Header (64 bytes):
//	  Magic "DBUFARC1" (8 bytes), Version uint16, EntryCount uint32,
//	  NextOffset uint64, TotalDataSize uint64, reserved padding.
//
//	Entry (variable):
//	  Dataset length uint16 + Dataset bytes
//	  Object uint64, Level int32, BlockID uint64, TXG uint64
//	  Data length uint32 + Data bytes
//
// Adapted from the teacher's pkg/wal mmap persister: same header/grow/
// mmap mechanics, replacing its slice-entry format (file handle + chunk
// index + slice id) with a Coord+TXG-keyed block-write entry.
package arcsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	logMagic        = "DBUFARC1"
	logVersion      = uint16(1)
	logHeaderSize   = 64
	logInitialSize  = 16 * 1024 * 1024
	logGrowthFactor = 2
)

var (
	ErrLogClosed    = errors.New("arcsim: durability log closed")
	ErrLogCorrupted = errors.New("arcsim: durability log corrupted")
	ErrLogVersion   = errors.New("arcsim: durability log version mismatch")
)

// WriteEntry is one logged block write, replayed into the simulator's
// in-memory table on Recover.
type WriteEntry struct {
	Dataset string
	Object  uint64
	Level   int
	BlockID uint64
	TXG     uint64
	Data    []byte
}

type logHeader struct {
	Magic         [8]byte
	Version       uint16
	EntryCount    uint32
	NextOffset    uint64
	TotalDataSize uint64
}

// MmapLog is the mmap-backed append log.
type MmapLog struct {
	mu     sync.Mutex
	file   *os.File
	data   []byte
	size   uint64
	header *logHeader
	closed bool
}

// OpenMmapLog opens (or creates) the durability log rooted at dir.
func OpenMmapLog(dir string) (*MmapLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	l := &MmapLog{}
	path := filepath.Join(dir, "arcsim.log")
	if _, err := os.Stat(path); err == nil {
		if err := l.openExisting(path); err != nil {
			return nil, err
		}
	} else {
		if err := l.createNew(path); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *MmapLog) createNew(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if err := f.Truncate(int64(logInitialSize)); err != nil {
		f.Close()
		return fmt.Errorf("truncate file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, logInitialSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}
	l.file, l.data, l.size = f, data, logInitialSize
	l.header = &logHeader{Version: logVersion, NextOffset: logHeaderSize}
	copy(l.header.Magic[:], logMagic)
	l.writeHeader()
	return nil
}

func (l *MmapLog) openExisting(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat file: %w", err)
	}
	size := uint64(info.Size())
	if size < logHeaderSize {
		f.Close()
		return ErrLogCorrupted
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}
	l.file, l.data, l.size = f, data, size

	h := &logHeader{}
	copy(h.Magic[:], data[0:8])
	h.Version = binary.LittleEndian.Uint16(data[8:10])
	h.EntryCount = binary.LittleEndian.Uint32(data[10:14])
	h.NextOffset = binary.LittleEndian.Uint64(data[14:22])
	h.TotalDataSize = binary.LittleEndian.Uint64(data[22:30])
	if string(h.Magic[:]) != logMagic {
		_ = l.closeLocked()
		return ErrLogCorrupted
	}
	if h.Version != logVersion {
		_ = l.closeLocked()
		return ErrLogVersion
	}
	l.header = h
	return nil
}

func (l *MmapLog) writeHeader() {
	copy(l.data[0:8], l.header.Magic[:])
	binary.LittleEndian.PutUint16(l.data[8:10], l.header.Version)
	binary.LittleEndian.PutUint32(l.data[10:14], l.header.EntryCount)
	binary.LittleEndian.PutUint64(l.data[14:22], l.header.NextOffset)
	binary.LittleEndian.PutUint64(l.data[22:30], l.header.TotalDataSize)
}

// Append records one committed write.
func (l *MmapLog) Append(e WriteEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}

	size := 2 + len(e.Dataset) + 8 + 4 + 8 + 8 + 4 + len(e.Data)
	if err := l.ensureSpace(uint64(size)); err != nil {
		return err
	}

	off := l.header.NextOffset
	binary.LittleEndian.PutUint16(l.data[off:], uint16(len(e.Dataset)))
	off += 2
	copy(l.data[off:], e.Dataset)
	off += uint64(len(e.Dataset))
	binary.LittleEndian.PutUint64(l.data[off:], e.Object)
	off += 8
	binary.LittleEndian.PutUint32(l.data[off:], uint32(e.Level))
	off += 4
	binary.LittleEndian.PutUint64(l.data[off:], e.BlockID)
	off += 8
	binary.LittleEndian.PutUint64(l.data[off:], e.TXG)
	off += 8
	binary.LittleEndian.PutUint32(l.data[off:], uint32(len(e.Data)))
	off += 4
	copy(l.data[off:], e.Data)
	off += uint64(len(e.Data))

	l.header.NextOffset = off
	l.header.EntryCount++
	l.header.TotalDataSize += uint64(len(e.Data))
	l.writeHeader()
	return nil
}

// Recover replays every logged entry in write order.
func (l *MmapLog) Recover() ([]WriteEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLogClosed
	}

	var out []WriteEntry
	off := uint64(logHeaderSize)
	end := l.header.NextOffset
	for off < end {
		if off+2 > l.size {
			return nil, ErrLogCorrupted
		}
		dsLen := binary.LittleEndian.Uint16(l.data[off:])
		off += 2
		if off+uint64(dsLen) > l.size {
			return nil, ErrLogCorrupted
		}
		dataset := string(l.data[off : off+uint64(dsLen)])
		off += uint64(dsLen)

		if off+32 > l.size {
			return nil, ErrLogCorrupted
		}
		object := binary.LittleEndian.Uint64(l.data[off:])
		off += 8
		level := int(int32(binary.LittleEndian.Uint32(l.data[off:])))
		off += 4
		blkid := binary.LittleEndian.Uint64(l.data[off:])
		off += 8
		txgNum := binary.LittleEndian.Uint64(l.data[off:])
		off += 8
		dataLen := binary.LittleEndian.Uint32(l.data[off:])
		off += 4

		if off+uint64(dataLen) > l.size {
			return nil, ErrLogCorrupted
		}
		data := make([]byte, dataLen)
		copy(data, l.data[off:off+uint64(dataLen)])
		off += uint64(dataLen)

		out = append(out, WriteEntry{Dataset: dataset, Object: object, Level: level, BlockID: blkid, TXG: txgNum, Data: data})
	}
	return out, nil
}

// Sync flushes pending writes (async — the OS owns disk durability
// timing, matching the teacher's MS_ASYNC choice).
func (l *MmapLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	return unix.Msync(l.data, unix.MS_ASYNC)
}

// Close unmaps and closes the backing file.
func (l *MmapLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *MmapLog) closeLocked() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.data != nil {
		_ = unix.Msync(l.data, unix.MS_SYNC)
		if err := unix.Munmap(l.data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		l.data = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		l.file = nil
	}
	return nil
}

func (l *MmapLog) ensureSpace(needed uint64) error {
	if l.header.NextOffset+needed <= l.size {
		return nil
	}
	newSize := l.size * logGrowthFactor
	for l.header.NextOffset+needed > newSize {
		newSize *= logGrowthFactor
	}
	if err := unix.Munmap(l.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	if err := l.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	data, err := unix.Mmap(int(l.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	l.data = data
	l.size = newSize
	return nil
}
