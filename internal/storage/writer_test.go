package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/battesty/battesty/internal/engine"
)

type fakePersister struct {
	mu       sync.Mutex
	sessions []engine.Session
	profiles []engine.CapacityProfile
	failures int
}

func (f *fakePersister) InsertSession(s engine.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("disk busy")
	}
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakePersister) SaveCapacityProfile(p engine.CapacityProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("disk busy")
	}
	f.profiles = append(f.profiles, p)
	return nil
}

func (f *fakePersister) snapshot() ([]engine.Session, []engine.CapacityProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Session(nil), f.sessions...), append([]engine.CapacityProfile(nil), f.profiles...)
}

func TestWriter_PersistsQueuedWork(t *testing.T) {
	fake := &fakePersister{}
	w := NewWriter(fake, nil)

	if err := w.SaveSession(engine.Session{ID: 1, Kind: engine.SessionDischarge}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := w.SaveCapacityProfile(engine.CapacityProfile{MeasuredFullMWH: 48000, DesignMWH: 50000}); err != nil {
		t.Fatalf("SaveCapacityProfile: %v", err)
	}
	w.Close()

	sessions, profiles := fake.snapshot()
	if len(sessions) != 1 || sessions[0].ID != 1 {
		t.Errorf("sessions = %+v, want one session with id 1", sessions)
	}
	if len(profiles) != 1 || profiles[0].MeasuredFullMWH != 48000 {
		t.Errorf("profiles = %+v, want one profile", profiles)
	}
}

func TestWriter_RetriesTransientFailure(t *testing.T) {
	fake := &fakePersister{failures: 2}
	w := NewWriter(fake, nil)
	w.backoff = time.Millisecond

	if err := w.SaveSession(engine.Session{ID: 5}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	w.Close()

	sessions, _ := fake.snapshot()
	if len(sessions) != 1 || sessions[0].ID != 5 {
		t.Errorf("sessions = %+v, want the retried session", sessions)
	}
}

func TestWriter_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakePersister{failures: writerMaxAttempts}
	w := NewWriter(fake, nil)
	w.backoff = time.Millisecond

	if err := w.SaveSession(engine.Session{ID: 9}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	w.Close()

	sessions, _ := fake.snapshot()
	if len(sessions) != 0 {
		t.Errorf("sessions = %+v, want none after exhausted retries", sessions)
	}
}

func TestWriter_CloseIsIdempotentAndRejectsLateWrites(t *testing.T) {
	fake := &fakePersister{}
	w := NewWriter(fake, nil)
	w.Close()
	w.Close()

	if err := w.SaveSession(engine.Session{ID: 3}); err != nil {
		t.Fatalf("SaveSession after close: %v", err)
	}
	sessions, _ := fake.snapshot()
	if len(sessions) != 0 {
		t.Errorf("sessions = %+v, want none after close", sessions)
	}
}
