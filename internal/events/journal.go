package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

var journalPrefix = []byte("ev:")

// Journal хранит события в LevelDB в порядке публикации для сверки и конвейера исполнения заказов.
type Journal struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

// OpenJournal открывает (или создаёт) журнал в каталоге path.
func OpenJournal(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	j, err := NewJournal(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal создаёт журнал поверх открытой базы и восстанавливает последний номер события.
func NewJournal(db *leveldb.DB) (*Journal, error) {
	it := db.NewIterator(util.BytesPrefix(journalPrefix), nil)
	defer it.Release()

	var seq uint64
	if it.Last() {
		seq = decodeSeq(it.Key())
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return &Journal{db: db, seq: seq}, nil
}

func journalKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)
	return key
}

func decodeSeq(key []byte) uint64 {
	if len(key) != len(journalPrefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(journalPrefix):])
}

// Append записывает событие и возвращает присвоенный ему номер.
func (j *Journal) Append(ev Event) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ev.Seq = j.seq + 1
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	if err := j.db.Put(journalKey(ev.Seq), data, nil); err != nil {
		return 0, fmt.Errorf("write event: %w", err)
	}
	j.seq = ev.Seq
	return ev.Seq, nil
}

// Since возвращает не более limit событий с номером больше after.
func (j *Journal) Since(after uint64, limit int) ([]Event, error) {
	it := j.db.NewIterator(&util.Range{Start: journalKey(after + 1), Limit: util.BytesPrefix(journalPrefix).Limit}, nil)
	defer it.Release()

	var res []Event
	for it.Next() {
		var ev Event
		if err := json.Unmarshal(it.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		res = append(res, ev)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return res, nil
}

// Handler возвращает подписчика, записывающего события в журнал.
func (j *Journal) Handler(logger *zap.Logger) Handler {
	return func(ev Event) {
		if _, err := j.Append(ev); err != nil {
			logger.Error("journal append failed", zap.String("id", ev.ID), zap.Error(err))
		}
	}
}

// Close закрывает базу журнала.
func (j *Journal) Close() error {
	return j.db.Close()
}
