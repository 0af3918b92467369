// Package archive keeps validation runs, their per-record results and the
// truth records they were matched against in an embedded pebble store, so
// the status server can answer queries without re-reading the JSONL logs.
//
// Key layout:
//
//	run/<ksuid>                   → Run JSON
//	order/<created ns:8><ksuid>   → empty; newest-run index
//	result/<ksuid><seq:8>         → report.Line JSON
//	truth/<packet id:8><epoch:8>  → record.TruthRecord JSON
//
// Signed integers are stored big-endian with the sign bit flipped so byte
// order matches numeric order.
package archive

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"

	"github.com/ssargent/vitalgap/pkg/record"
	"github.com/ssargent/vitalgap/pkg/report"
)

var (
	// ErrNotFound is returned when a run or packet id is not archived.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRunID is returned for a run id that is not a ksuid.
	ErrInvalidRunID = errors.New("invalid run id")
)

const ksuidLen = 20

var (
	runPrefix    = []byte("run/")
	orderPrefix  = []byte("order/")
	resultPrefix = []byte("result/")
	truthPrefix  = []byte("truth/")
)

// Run is one archived validation run.
type Run struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Report    report.Document `json:"report"`
}

// Archive is a pebble-backed run store. It is safe for concurrent use.
type Archive struct {
	db *pebble.DB
}

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying store.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveRun stores a run with its result lines and truth records in one
// batch. Truth records are keyed by packet id and epoch, so re-archiving the
// same truth log overwrites rather than duplicates. Truth without a packet id
// is not archived.
func (a *Archive) SaveRun(doc report.Document, lines []report.Line, truth []record.TruthRecord) (Run, error) {
	id := ksuid.New()
	run := Run{ID: id.String(), CreatedAt: time.Now().UTC(), Report: doc}

	b := a.db.NewBatch()
	defer b.Close()

	if err := setJSON(b, runKey(id), run); err != nil {
		return Run{}, err
	}
	if err := b.Set(orderKey(run.CreatedAt, id), nil, nil); err != nil {
		return Run{}, err
	}
	for i, line := range lines {
		if err := setJSON(b, resultKey(id, uint64(i)), line); err != nil {
			return Run{}, err
		}
	}
	for _, t := range truth {
		if t.PacketID == nil {
			continue
		}
		if err := setJSON(b, truthKey(*t.PacketID, t.EpochMs), t); err != nil {
			return Run{}, err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return Run{}, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// Run returns the run with the given id.
func (a *Archive) Run(id string) (Run, error) {
	kid, err := ksuid.Parse(id)
	if err != nil {
		return Run{}, fmt.Errorf("%w %q: %v", ErrInvalidRunID, id, err)
	}
	var run Run
	if err := a.get(runKey(kid), &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// LatestRun returns the most recently saved run.
func (a *Archive) LatestRun() (Run, error) {
	ids, err := a.runIDs(1)
	if err != nil {
		return Run{}, err
	}
	if len(ids) == 0 {
		return Run{}, ErrNotFound
	}
	return a.Run(ids[0])
}

// Runs lists run ids, newest first.
func (a *Archive) Runs() ([]string, error) {
	return a.runIDs(0)
}

func (a *Archive) runIDs(limit int) ([]string, error) {
	iter, err := a.db.NewIter(prefixOptions(orderPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	ids := []string{}
	for ok := iter.Last(); ok && (limit <= 0 || len(ids) < limit); ok = iter.Prev() {
		key := iter.Key()
		kid, err := ksuid.FromBytes(key[len(key)-ksuidLen:])
		if err != nil {
			return nil, fmt.Errorf("corrupt run index key: %w", err)
		}
		ids = append(ids, kid.String())
	}
	return ids, iter.Error()
}

// Results returns up to limit result lines of a run starting at offset.
// limit <= 0 returns everything from offset.
func (a *Archive) Results(runID string, offset, limit int) ([]report.Line, error) {
	kid, err := ksuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidRunID, runID, err)
	}

	prefix := append(append([]byte(nil), resultPrefix...), kid.Bytes()...)
	opts := prefixOptions(prefix)
	opts.LowerBound = resultKey(kid, uint64(max(offset, 0)))

	iter, err := a.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	lines := []report.Line{}
	for ok := iter.First(); ok && (limit <= 0 || len(lines) < limit); ok = iter.Next() {
		var line report.Line
		if err := json.Unmarshal(iter.Value(), &line); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, iter.Error()
}

// Truth returns every archived truth record for packetID, oldest first.
func (a *Archive) Truth(packetID int64) ([]record.TruthRecord, error) {
	prefix := append(append([]byte(nil), truthPrefix...), sortable(packetID)...)
	iter, err := a.db.NewIter(prefixOptions(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []record.TruthRecord
	for ok := iter.First(); ok; ok = iter.Next() {
		var t record.TruthRecord
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("failed to decode truth: %w", err)
		}
		out = append(out, t)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (a *Archive) get(key []byte, v any) error {
	data, closer, err := a.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	// data is only valid until closer.Close.
	return json.Unmarshal(data, v)
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode archive value: %w", err)
	}
	return b.Set(key, data, nil)
}

func runKey(id ksuid.KSUID) []byte {
	return append(append([]byte(nil), runPrefix...), id.Bytes()...)
}

func orderKey(created time.Time, id ksuid.KSUID) []byte {
	k := append(append([]byte(nil), orderPrefix...), sortable(created.UnixNano())...)
	return append(k, id.Bytes()...)
}

func resultKey(id ksuid.KSUID, seq uint64) []byte {
	k := append(append([]byte(nil), resultPrefix...), id.Bytes()...)
	return binary.BigEndian.AppendUint64(k, seq)
}

func truthKey(packetID, epochMs int64) []byte {
	k := append(append([]byte(nil), truthPrefix...), sortable(packetID)...)
	return append(k, sortable(epochMs)...)
}

func sortable(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v)^(1<<63))
}

// prefixOptions bounds an iterator to keys starting with prefix.
func prefixOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	}
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
