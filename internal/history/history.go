// Package history implements the History Subsystem of §4.4: append-only
// per-device day-fragment files with an index, and filtered streaming
// queries. Grounded on the teacher's ap.configd/file.go atomic-write
// pattern for the index, generalized to O_APPEND|O_SYNC per-record
// appends for fragment files as §4.4 and §5 require.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"obixd/internal/metrics"
	"obixd/internal/obixerr"
	"obixd/internal/stream"
	"obixd/internal/tsync"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Record is one history entry.
type Record struct {
	Timestamp time.Time
	XML       string // the full <obj is="obix:HistoryRecord">...</obj> body
}

// fragment tracks one day's on-disk file and its metadata.
type fragment struct {
	date  string // YYYY-MM-DD
	path  string
	first time.Time
	last  time.Time
	count int
}

// Facility is the per-device history log.
type Facility struct {
	devID string
	dir   string
	gate  *tsync.Gate

	mu        sync.Mutex
	fragments []*fragment
	total     int
}

// Subsystem is the single History Subsystem instance for a server.
type Subsystem struct {
	mu        sync.RWMutex
	resDir    string
	byDevID   map[string]*Facility
	log       *zap.SugaredLogger
}

// New constructs a Subsystem rooted at resDir (<res>/histories).
func New(resDir string, log *zap.SugaredLogger) *Subsystem {
	return &Subsystem{resDir: resDir, byDevID: make(map[string]*Facility), log: log}
}

// EncodeDevID converts a device path below /obix/historyService/histories/
// into the dotted dev_id used as its directory name.
func EncodeDevID(devicePath string) string {
	trimmed := strings.Trim(devicePath, "/")
	return strings.ReplaceAll(trimmed, "/", ".")
}

// DevID returns the facility's dev_id.
func (f *Facility) DevID() string { return f.devID }

// Get implements §4.4's get(dev_id): idempotent create-if-absent.
func (s *Subsystem) Get(devID string) (*Facility, *obixerr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.byDevID[devID]; ok {
		return f, nil
	}

	dir := filepath.Join(s.resDir, devID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, obixerr.New(obixerr.DiskIO, devID, "failed to create history directory")
	}

	f := &Facility{devID: devID, dir: dir, gate: tsync.New()}
	if err := f.loadIndex(); err != nil {
		return nil, obixerr.New(obixerr.HistoryIO, devID, "failed to load index")
	}
	s.byDevID[devID] = f
	return f, nil
}

// AppendResult is returned from Append per §6.4's obix:HistoryAppendOut.
type AppendResult struct {
	NumAdded int
	NewCount int
	NewStart time.Time
	NewEnd   time.Time
}

// Append implements §4.4's append operation.
func (f *Facility) Append(records []Record) (*AppendResult, *obixerr.Error) {
	if err := f.gate.WriterEntry(); err != nil {
		return nil, obixerr.New(obixerr.InvalidState, f.devID, "history facility is shutting down")
	}
	defer f.gate.WriterExit()

	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, r := range records {
		last := f.lastTimestamp()
		if !last.IsZero() && !r.Timestamp.After(last) {
			return nil, obixerr.New(obixerr.TsObsolete, f.devID, "record timestamp not after last stored")
		}

		frag, err := f.fragmentFor(r.Timestamp)
		if err != nil {
			return nil, obixerr.New(obixerr.HistoryIO, f.devID, "failed to open fragment")
		}

		if err := appendRecord(frag.path, r.XML); err != nil {
			return nil, obixerr.New(obixerr.HistoryIO, f.devID, "failed to append record")
		}

		if frag.count == 0 {
			frag.first = r.Timestamp
		}
		frag.last = r.Timestamp
		frag.count++
		f.total++
		added++
	}

	if added > 0 {
		if err := f.writeIndex(); err != nil {
			return nil, obixerr.New(obixerr.HistoryIO, f.devID, "failed to write index")
		}
	}

	metrics.HistoryRecordsAppended.Add(float64(added))

	start, end := f.overallRange()
	return &AppendResult{NumAdded: added, NewCount: f.total, NewStart: start, NewEnd: end}, nil
}

func (f *Facility) lastTimestamp() time.Time {
	if len(f.fragments) == 0 {
		return time.Time{}
	}
	return f.fragments[len(f.fragments)-1].last
}

func (f *Facility) overallRange() (time.Time, time.Time) {
	if len(f.fragments) == 0 {
		return time.Time{}, time.Time{}
	}
	return f.fragments[0].first, f.fragments[len(f.fragments)-1].last
}

// fragmentFor returns the fragment for ts's date, creating it (and its
// file) if this is a new day. Caller must hold f.mu.
func (f *Facility) fragmentFor(ts time.Time) (*fragment, error) {
	date := ts.UTC().Format("2006-01-02")
	if len(f.fragments) > 0 {
		last := f.fragments[len(f.fragments)-1]
		if last.date == date {
			return last, nil
		}
	}
	frag := &fragment{date: date, path: filepath.Join(f.dir, date+".fragment")}
	f.fragments = append(f.fragments, frag)
	return frag, nil
}

// appendRecord writes record via a single append of {xml, "\r\n"} to an
// O_APPEND|O_WRONLY|O_SYNC fd, per §4.4.
func appendRecord(path, xml string) error {
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE|os.O_SYNC, 0o644)
	if err != nil {
		return err
	}
	defer fd.Close()
	_, err = fd.WriteString(xml + "\r\n")
	return err
}

// Filter is §6.4's obix:HistoryFilter.
type Filter struct {
	Limit   int // negative/absent means "all"; 0 means header only
	HasStart bool
	Start   time.Time
	HasEnd  bool
	End     time.Time
}

// QueryResult carries the header fields of obix:HistoryQueryOut; Body
// streams the record chunks.
type QueryResult struct {
	Count int
	Start time.Time
	End   time.Time
	Body  *stream.Writer
}

// Query implements §4.4's query operation.
func (f *Facility) Query(filter Filter) (*QueryResult, *obixerr.Error) {
	if err := f.gate.ReaderEntry(); err != nil {
		return nil, obixerr.New(obixerr.InvalidState, f.devID, "history facility is shutting down")
	}
	defer f.gate.ReaderExit()

	f.mu.Lock()
	defer f.mu.Unlock()

	overallStart, overallEnd := f.overallRange()

	start := overallStart
	if filter.HasStart && filter.Start.After(start) {
		start = filter.Start
	}
	end := overallEnd
	if filter.HasEnd && filter.End.Before(end) {
		end = filter.End
	}

	body := stream.New()

	if overallStart.IsZero() || start.After(end) {
		zero, _ := time.Parse(timeLayout, "1970-01-01T00:00:00Z")
		return &QueryResult{Count: 0, Start: zero, End: zero, Body: body}, nil
	}

	limit := filter.Limit
	if limit == 0 {
		return &QueryResult{Count: 0, Start: start, End: end, Body: body}, nil
	}

	count := 0
	var actualStart, actualEnd time.Time

	for _, frag := range f.fragments {
		if frag.last.Before(start) || frag.first.After(end) {
			continue
		}
		fullyContained := !frag.first.Before(start) && !frag.last.After(end)
		remaining := limit
		if limit > 0 {
			remaining = limit - count
			if remaining <= 0 {
				break
			}
		}

		if fullyContained && (limit < 0 || frag.count <= remaining) {
			data, err := os.ReadFile(frag.path)
			if err != nil {
				return nil, obixerr.New(obixerr.HistoryIO, f.devID, "failed to read fragment")
			}
			body.Append(data)
			count += frag.count
			if actualStart.IsZero() {
				actualStart = frag.first
			}
			actualEnd = frag.last
			continue
		}

		recs, err := scanFragment(frag.path)
		if err != nil {
			return nil, obixerr.New(obixerr.HistoryData, f.devID, "failed to parse fragment")
		}
		for _, r := range recs {
			if r.Timestamp.Before(start) || r.Timestamp.After(end) {
				continue
			}
			if limit >= 0 && count >= limit {
				break
			}
			body.Append([]byte(r.XML + "\r\n"))
			count++
			if actualStart.IsZero() {
				actualStart = r.Timestamp
			}
			actualEnd = r.Timestamp
		}
		if limit >= 0 && count >= limit {
			break
		}
	}

	if actualStart.IsZero() {
		actualStart = start
		actualEnd = start
	}

	return &QueryResult{Count: count, Start: actualStart, End: actualEnd, Body: body}, nil
}

func (f *Facility) writeIndex() error {
	var sb strings.Builder
	sb.WriteString(`<list is="obix:HistoryFileAbstract">`)
	for _, frag := range f.fragments {
		fmt.Fprintf(&sb, `<obj is="obix:HistoryFileAbstract"><date name="date" val=%q/>`+
			`<int name="count" val="%d"/><abstime name="start" val=%q/>`+
			`<abstime name="end" val=%q/></obj>`,
			frag.date, frag.count, frag.first.Format(timeLayout), frag.last.Format(timeLayout))
	}
	sb.WriteString(`</list>`)

	path := filepath.Join(f.dir, "index.xml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *Facility) loadIndex() error {
	path := filepath.Join(f.dir, "index.xml")
	recs, err := scanIndex(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].date < recs[j].date })
	for _, r := range recs {
		f.fragments = append(f.fragments, &fragment{
			date: r.date, path: filepath.Join(f.dir, r.date+".fragment"),
			first: r.start, last: r.end, count: r.count,
		})
		f.total += r.count
	}
	return nil
}
