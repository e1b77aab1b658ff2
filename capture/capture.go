// Package capture persists received CAN frames to a bolt-backed store so a
// bus session can be inspected or replayed later.
package capture

import (
	"time"

	"github.com/asdine/storm/v3"

	"github.com/linklayer/cantact-go/cantact"
)

// Record is one captured frame.
type Record struct {
	ID        uint64        `storm:"id,increment"`
	Timestamp time.Duration // elapsed since interface start
	Channel   uint8
	CANID     uint32
	DLC       uint8
	Data      []byte
	Extended  bool
	RTR       bool
	FD        bool
	Loopback  bool
}

// Store is an append-only frame log.
type Store struct {
	db *storm.DB
}

// Open opens or creates a capture database at path.
func Open(path string) (*Store, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a frame.
func (s *Store) Append(f cantact.Frame) error {
	return s.db.Save(&Record{
		Timestamp: f.Timestamp,
		Channel:   f.Channel,
		CANID:     f.ID,
		DLC:       f.DLC,
		Data:      append([]byte(nil), f.Data...),
		Extended:  f.Extended,
		RTR:       f.RTR,
		FD:        f.FD,
		Loopback:  f.Loopback,
	})
}

// All returns every captured frame in capture order.
func (s *Store) All() ([]Record, error) {
	var records []Record
	if err := s.db.All(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of captured frames.
func (s *Store) Count() (int, error) {
	return s.db.Count(&Record{})
}

// Replay feeds every captured frame, in capture order, to send. Loopback
// echoes of our own transmissions are skipped so a replay does not double
// frames the device will echo again.
func (s *Store) Replay(send func(cantact.Frame) error) error {
	records, err := s.All()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Loopback {
			continue
		}
		f := cantact.Frame{
			ID:       r.CANID,
			DLC:      r.DLC,
			Channel:  r.Channel,
			Data:     r.Data,
			Extended: r.Extended,
			RTR:      r.RTR,
			FD:       r.FD,
		}
		if err := send(f); err != nil {
			return err
		}
	}
	return nil
}
