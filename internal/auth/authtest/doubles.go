// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/authcore/internal/auth"
)

var codePattern = regexp.MustCompile(`\b(\d{4,10})\b`)

// Message is a captured notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Outbox is a Notifier that records messages and extracts codes from them.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	// Err, when set, is returned by Send after recording the message.
	Err error
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Send implements auth.Notifier.
func (o *Outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, Message{To: to, Subject: subject, Body: body})
	return o.Err
}

// Messages returns all recorded messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// LastCode returns the code from the most recent message to email, or "".
func (o *Outbox) LastCode(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To != email {
			continue
		}
		if m := codePattern.FindStringSubmatch(o.messages[i].Body); m != nil {
			return m[1]
		}
	}
	return ""
}

// MockNotifier is a testify mock of auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a MockNotifier that asserts its expectations on cleanup.
func NewMockNotifier(t *testing.T) *MockNotifier {
	m := &MockNotifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Send implements auth.Notifier.
func (m *MockNotifier) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

// MockCaptcha is a testify mock of auth.CaptchaVerifier.
type MockCaptcha struct {
	mock.Mock
}

// NewMockCaptcha creates a MockCaptcha that asserts its expectations on cleanup.
func NewMockCaptcha(t *testing.T) *MockCaptcha {
	m := &MockCaptcha{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Verify implements auth.CaptchaVerifier.
func (m *MockCaptcha) Verify(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

// MockHasher is a testify mock of auth.PasswordHasher.
type MockHasher struct {
	mock.Mock
}

// NewMockHasher creates a MockHasher that asserts its expectations on cleanup.
func NewMockHasher(t *testing.T) *MockHasher {
	m := &MockHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// Clock is a manually advanced clock. The zero value starts at the Unix epoch.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock at start, truncated to the second so token
// timestamps round-trip exactly.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.Truncate(time.Second)}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FastHasher returns an argon2id hasher with parameters cheap enough for tests.
func FastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Memory:  1024,
		Time:    1,
		Threads: 1,
		SaltLen: 16,
		KeyLen:  32,
	})
}

var (
	_ auth.Notifier        = (*Outbox)(nil)
	_ auth.Notifier        = (*MockNotifier)(nil)
	_ auth.CaptchaVerifier = (*MockCaptcha)(nil)
	_ auth.PasswordHasher  = (*MockHasher)(nil)
)
