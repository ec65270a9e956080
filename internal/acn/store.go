package acn

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// RecordStore is the ACN peer's persistent store of agent records it has
// relayed or delegated for, an append-only length-prefixed file replayed on
// startup, grounded on the teacher's
// dhtpeer.{saveAgentRecordToPersistentStorage,initAgentRecordPersistentStorage,
// closeAgentRecordPersistentStorage}. Each record is written as
// uint32_be(len) || record_bytes, record_bytes being the record's own
// ControlMessage-style wire encoding (encodeAgentRecord).
//
// A corrupt tail (a length prefix with no matching full body, e.g. from a
// crash mid-write) aborts Load rather than silently truncating: the teacher
// treats any read error while replaying as fatal (it wraps and returns),
// and a store a peer cannot trust its own history of is worse than one that
// refuses to start.
type RecordStore struct {
	mu   sync.Mutex
	file *os.File
}

// OpenRecordStore opens (creating if absent) the append-only file at path
// and replays every record in it, returning the loaded set keyed by
// address alongside the opened store.
func OpenRecordStore(path string) (*RecordStore, map[string]*AgentRecord, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, nil, errors.Wrap(err, "acn: while opening record store")
	}
	records, err := replayRecords(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "acn: while replaying record store")
	}
	return &RecordStore{file: f}, records, nil
}

func replayRecords(f *os.File) (map[string]*AgentRecord, error) {
	records := map[string]*AgentRecord{}
	reader := bufio.NewReader(f)
	for {
		prefix := make([]byte, 4)
		_, err := io.ReadFull(reader, prefix)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, errors.New("acn: corrupt record store: truncated length prefix")
		}

		size := binary.BigEndian.Uint32(prefix)
		body := make([]byte, size)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, errors.New("acn: corrupt record store: truncated record body")
		}

		record, err := decodeAgentRecord(body)
		if err != nil {
			return nil, errors.Wrap(err, "acn: corrupt record store: undecodable record")
		}
		records[record.Address] = record
	}
}

// Save appends record to the store, framed with its uint32_be length.
func (s *RecordStore) Save(record *AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := encodeAgentRecord(record)
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(body)))

	if _, err := s.file.Write(prefix); err != nil {
		return errors.Wrap(err, "acn: while appending record length")
	}
	if _, err := s.file.Write(body); err != nil {
		return errors.Wrap(err, "acn: while appending record body")
	}
	return nil
}

// Close closes the underlying file.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
