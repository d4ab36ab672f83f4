package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var errSettleInterrupted = errors.New("settle interrupted")

type thawCall struct {
	FreezeID string
	Success  bool
	Label    string
}

type fakeSession struct {
	mu        sync.Mutex
	open      atomic.Bool
	user      string
	password  string
	opens     int
	nextID    int
	thaws     []thawCall
	openErr   error
	freezeErr error
	thawErr   error
	// hold, when set, keeps Freeze inside the settle wait until closed or
	// the context is cancelled.
	hold   chan struct{}
	frozen chan string
	// openGate, when set, keeps Open waiting until it is closed.
	openGate chan struct{}
	// prepared lists the backup ids PendingFreezeIDs reports.
	prepared []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{nextID: 100, frozen: make(chan string, 16)}
}

func (s *fakeSession) Open(ctx context.Context, user, password string) error {
	if s.openGate != nil {
		<-s.openGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil || password != s.password || user != s.user {
		return fmt.Errorf("login rejected: %v", s.openErr)
	}
	s.open.Store(true)
	return nil
}

func (s *fakeSession) IsOpen() bool { return s.open.Load() }

func (s *fakeSession) Freeze(ctx context.Context, label string, settle time.Duration) (string, error) {
	s.mu.Lock()
	if s.freezeErr != nil {
		err := s.freezeErr
		s.mu.Unlock()
		return "", err
	}
	s.nextID++
	id := fmt.Sprint(s.nextID)
	hold := s.hold
	s.mu.Unlock()

	s.frozen <- id
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return id, errSettleInterrupted
		}
	}
	return id, nil
}

func (s *fakeSession) PendingFreezeIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prepared...), nil
}

func (s *fakeSession) Thaw(ctx context.Context, freezeID string, success bool, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thaws = append(s.thaws, thawCall{FreezeID: freezeID, Success: success, Label: label})
	return s.thawErr
}

func (s *fakeSession) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeSession) Close() error {
	s.open.Store(false)
	return nil
}

func (s *fakeSession) thawCalls() []thawCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]thawCall(nil), s.thaws...)
}

func (s *fakeSession) setFreezeErr(err error) {
	s.mu.Lock()
	s.freezeErr = err
	s.mu.Unlock()
}

func (s *fakeSession) setThawErr(err error) {
	s.mu.Lock()
	s.thawErr = err
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func basic(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}
