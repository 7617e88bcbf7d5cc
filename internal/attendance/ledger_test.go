package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edupresence/backend/internal/authz"
	"github.com/edupresence/backend/internal/models"
	"github.com/edupresence/backend/internal/session"
)

type enrollmentStore struct {
	mu       sync.Mutex
	enrolled map[uuid.UUID]map[uuid.UUID]bool
	err      error
	calls    int
}

func (s *enrollmentStore) ClassOwner(ctx context.Context, classID uuid.UUID) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func (s *enrollmentStore) Enrolled(ctx context.Context, studentID, classID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.enrolled[classID][studentID], nil
}

func (s *enrollmentStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memStore struct {
	mu      sync.Mutex
	rows    map[string]models.AttendanceRecord
	err     error
	inserts int

	ctxCancelled bool
	ctxDeadline  bool
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.AttendanceRecord)}
}

func (s *memStore) InsertIfAbsent(ctx context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxCancelled = ctx.Err() != nil
	_, s.ctxDeadline = ctx.Deadline()
	if s.err != nil {
		return models.AttendanceRecord{}, false, s.err
	}
	key := rec.ClassID.String() + "|" + rec.StudentID.String() + "|" + rec.Date.Format("2006-01-02")
	if existing, ok := s.rows[key]; ok {
		return existing, false, nil
	}
	s.rows[key] = rec
	s.inserts++
	return rec, true, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type ledgerFixture struct {
	ledger    *Ledger
	tokens    *session.Service
	enrollSt  *enrollmentStore
	store     *memStore
	teacherID uuid.UUID
	classID   uuid.UUID
	studentID uuid.UUID
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		tokens:    session.NewService("test-secret", 300*time.Second),
		store:     newMemStore(),
		teacherID: uuid.New(),
		classID:   uuid.New(),
		studentID: uuid.New(),
	}
	f.enrollSt = &enrollmentStore{enrolled: map[uuid.UUID]map[uuid.UUID]bool{
		f.classID: {f.studentID: true},
	}}
	gate := authz.NewGate(f.enrollSt, time.Second, nil)
	f.ledger = NewLedger(f.tokens, gate, f.store, time.Second, nil)
	return f
}

func (f *ledgerFixture) openToken(t *testing.T, now time.Time) string {
	t.Helper()
	token, _, err := f.tokens.Open(f.teacherID, f.classID, now)
	if err != nil {
		t.Fatalf("open window: %v", err)
	}
	return token
}

func TestRecordFirstClaim(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	token := f.openToken(t, now)

	out, err := f.ledger.Record(context.Background(), token, f.studentID, now.Add(time.Minute), Evidence{})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if out.Status != StatusRecorded {
		t.Errorf("status = %q, want %q", out.Status, StatusRecorded)
	}
	if out.Record.ClassID != f.classID || out.Record.StudentID != f.studentID {
		t.Errorf("record keyed (%v, %v), want (%v, %v)",
			out.Record.ClassID, out.Record.StudentID, f.classID, f.studentID)
	}
	wantDate := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !out.Record.Date.Equal(wantDate) {
		t.Errorf("date = %v, want %v", out.Record.Date, wantDate)
	}
}

func TestRecordSecondClaimSameDay(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	token := f.openToken(t, now)
	ctx := context.Background()

	first, err := f.ledger.Record(ctx, token, f.studentID, now, Evidence{})
	if err != nil {
		t.Fatalf("first Record: %v", err)
	}

	second, err := f.ledger.Record(ctx, token, f.studentID, now.Add(2*time.Minute), Evidence{})
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if second.Status != StatusAlreadyRecorded {
		t.Errorf("status = %q, want %q", second.Status, StatusAlreadyRecorded)
	}
	if second.Record.ID != first.Record.ID {
		t.Error("second claim returned a different record than the one stored")
	}
	if f.store.count() != 1 {
		t.Errorf("store has %d rows, want 1", f.store.count())
	}
}

func TestRecordConcurrentClaims(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Now()
	token := f.openToken(t, now)

	const n = 16
	results := make([]Status, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.ledger.Record(context.Background(), token, f.studentID, now, Evidence{})
			if err != nil {
				t.Errorf("Record: %v", err)
				return
			}
			results[i] = out.Status
		}(i)
	}
	wg.Wait()

	recorded := 0
	for _, st := range results {
		if st == StatusRecorded {
			recorded++
		}
	}
	if recorded != 1 {
		t.Errorf("%d claims won, want exactly 1", recorded)
	}
	if f.store.count() != 1 {
		t.Errorf("store has %d rows, want 1", f.store.count())
	}
}

func TestRecordNewDayNewRecord(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	out, err := f.ledger.Record(ctx, f.openToken(t, day1), f.studentID, day1, Evidence{})
	if err != nil || out.Status != StatusRecorded {
		t.Fatalf("day 1 = (%v, %v), want recorded", out.Status, err)
	}

	day2 := day1.Add(24 * time.Hour)
	out, err = f.ledger.Record(ctx, f.openToken(t, day2), f.studentID, day2, Evidence{})
	if err != nil || out.Status != StatusRecorded {
		t.Fatalf("day 2 = (%v, %v), want recorded", out.Status, err)
	}
	if f.store.count() != 2 {
		t.Errorf("store has %d rows, want 2", f.store.count())
	}
}

func TestRecordInvalidTokenShortCircuits(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.ledger.Record(context.Background(), "garbage", f.studentID, time.Now(), Evidence{})
	if !errors.Is(err, session.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
	if f.enrollSt.callCount() != 0 {
		t.Error("enrollment checked before token verified")
	}
	if f.store.count() != 0 {
		t.Error("store touched on invalid token")
	}
}

func TestRecordExpiredTokenShortCircuits(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Now()
	token := f.openToken(t, now)

	_, err := f.ledger.Record(context.Background(), token, f.studentID, now.Add(301*time.Second), Evidence{})
	if !errors.Is(err, session.ErrExpiredToken) {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
	if f.enrollSt.callCount() != 0 || f.store.count() != 0 {
		t.Error("expired token reached the store layer")
	}
}

func TestRecordNotEnrolled(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Now()
	token := f.openToken(t, now)

	_, err := f.ledger.Record(context.Background(), token, uuid.New(), now, Evidence{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if f.store.count() != 0 {
		t.Error("unenrolled student reached the store")
	}
}

func TestRecordEnrollmentLookupFailure(t *testing.T) {
	f := newLedgerFixture(t)
	f.enrollSt.err = errors.New("connection refused")
	now := time.Now()
	token := f.openToken(t, now)

	_, err := f.ledger.Record(context.Background(), token, f.studentID, now, Evidence{})
	if !errors.Is(err, authz.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("upstream failure reported as unauthorized")
	}
	if f.store.count() != 0 {
		t.Error("store touched after failed enrollment lookup")
	}
}

func TestRecordInsertFailure(t *testing.T) {
	f := newLedgerFixture(t)
	f.store.err = errors.New("deadlock detected")
	now := time.Now()
	token := f.openToken(t, now)

	_, err := f.ledger.Record(context.Background(), token, f.studentID, now, Evidence{})
	if !errors.Is(err, authz.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

// The insert must survive the caller going away mid-request: it runs on a
// detached context with only the configured timeout.
func TestRecordInsertDetachedFromCaller(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Now()
	token := f.openToken(t, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := f.ledger.Record(ctx, token, f.studentID, now, Evidence{})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if out.Status != StatusRecorded {
		t.Errorf("status = %q, want %q", out.Status, StatusRecorded)
	}
	if f.store.ctxCancelled {
		t.Error("insert context inherited the caller's cancellation")
	}
	if !f.store.ctxDeadline {
		t.Error("insert ran without a deadline")
	}
}

func TestRecordKeepsEvidence(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Now()
	token := f.openToken(t, now)

	rssi := -61
	scan := []byte{0x01, 0x02, 0x03}
	out, err := f.ledger.Record(context.Background(), token, f.studentID, now, Evidence{RSSI: &rssi, FaceScanData: scan})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if out.Record.RSSI == nil || *out.Record.RSSI != rssi {
		t.Errorf("rssi = %v, want %d", out.Record.RSSI, rssi)
	}
	if len(out.Record.FaceScanData) != len(scan) {
		t.Errorf("face scan data = %d bytes, want %d", len(out.Record.FaceScanData), len(scan))
	}
}
