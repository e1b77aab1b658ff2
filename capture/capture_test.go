package capture

import (
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/linklayer/cantact-go/cantact"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAppend(t *testing.T) {
	Convey("appended frames come back in capture order", t, func() {
		s := openTestStore(t)

		first := cantact.Frame{
			ID:        0x123,
			DLC:       2,
			Data:      []byte{0xDE, 0xAD},
			Timestamp: 10 * time.Millisecond,
		}
		second := cantact.Frame{
			ID:       0x1FFFFFFF,
			DLC:      1,
			Data:     []byte{0x01},
			Extended: true,
			Channel:  1,
		}

		So(s.Append(first), ShouldBeNil)
		So(s.Append(second), ShouldBeNil)

		n, err := s.Count()
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 2)

		records, err := s.All()
		So(err, ShouldBeNil)
		So(len(records), ShouldEqual, 2)

		So(records[0].CANID, ShouldEqual, 0x123)
		So(records[0].Data, ShouldResemble, []byte{0xDE, 0xAD})
		So(records[0].Timestamp, ShouldEqual, 10*time.Millisecond)
		So(records[1].CANID, ShouldEqual, 0x1FFFFFFF)
		So(records[1].Extended, ShouldBeTrue)
		So(records[1].Channel, ShouldEqual, 1)
	})
}

func TestStoreReplay(t *testing.T) {
	Convey("replay resends bus traffic but skips our own echoes", t, func() {
		s := openTestStore(t)

		So(s.Append(cantact.Frame{ID: 0x100, DLC: 1, Data: []byte{1}}), ShouldBeNil)
		So(s.Append(cantact.Frame{ID: 0x200, DLC: 1, Data: []byte{2}, Loopback: true}), ShouldBeNil)
		So(s.Append(cantact.Frame{ID: 0x300, DLC: 1, Data: []byte{3}}), ShouldBeNil)

		var sent []cantact.Frame
		err := s.Replay(func(f cantact.Frame) error {
			sent = append(sent, f)
			return nil
		})

		So(err, ShouldBeNil)
		So(len(sent), ShouldEqual, 2)
		So(sent[0].ID, ShouldEqual, 0x100)
		So(sent[1].ID, ShouldEqual, 0x300)
	})
}
