package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
)

func TestAuthenticator_FirstLoginWins(t *testing.T) {
	session := newFakeSession()
	session.user, session.password = "SYSTEM", "manager"
	m := metrics.NewNop()
	auth := NewAuthenticator(session, nil, m)
	ctx := context.Background()

	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	assert.Equal(t, 1, session.opens)

	// A different valid-looking credential is rejected without touching the database.
	assert.ErrorIs(t, auth.Authenticate(ctx, basic("OTHER", "secret")), ErrUnauthorized)
	assert.Equal(t, 1, session.opens)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures))
}

func TestAuthenticator_Rejects(t *testing.T) {
	session := newFakeSession()
	session.user, session.password = "SYSTEM", "manager"
	auth := NewAuthenticator(session, nil, nil)
	ctx := context.Background()

	for _, cred := range []string{
		"",
		"Bearer abc",
		"Basic !!!not-base64",
		basic("SYSTEM", "wrong"),
		basic("", "manager"),
	} {
		assert.ErrorIs(t, auth.Authenticate(ctx, cred), ErrUnauthorized, cred)
	}
	assert.False(t, session.IsOpen())
}

func TestAuthenticator_ReopensAfterSessionClosed(t *testing.T) {
	session := newFakeSession()
	session.user, session.password = "SYSTEM", "manager"
	auth := NewAuthenticator(session, nil, nil)
	ctx := context.Background()

	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	require.NoError(t, session.Close())

	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	assert.Equal(t, 2, session.opens)

	require.NoError(t, session.Close())
	session.openErr = errors.New("database down")
	assert.ErrorIs(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")), ErrUnauthorized)
}

func TestAuthenticator_MalformedNotQueuedBehindLogin(t *testing.T) {
	session := newFakeSession()
	session.user, session.password = "SYSTEM", "manager"
	session.openGate = make(chan struct{})
	auth := NewAuthenticator(session, nil, nil)
	ctx := context.Background()

	login := make(chan error, 1)
	go func() { login <- auth.Authenticate(ctx, basic("SYSTEM", "manager")) }()

	rejected := make(chan error, 1)
	go func() { rejected <- auth.Authenticate(ctx, "Bearer abc") }()

	select {
	case err := <-rejected:
		assert.ErrorIs(t, err, ErrUnauthorized)
	case <-time.After(time.Second):
		t.Fatal("malformed credential waited for a pending login")
	}

	close(session.openGate)
	require.NoError(t, <-login)
	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	assert.Equal(t, 1, session.openCount())
}

func TestAuthenticator_ConcurrentLoginsOpenOnce(t *testing.T) {
	session := newFakeSession()
	session.user, session.password = "SYSTEM", "manager"
	session.openGate = make(chan struct{})
	auth := NewAuthenticator(session, nil, nil)
	ctx := context.Background()

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { results <- auth.Authenticate(ctx, basic("SYSTEM", "manager")) }()
	}
	close(session.openGate)
	for i := 0; i < 4; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, 1, session.openCount())
}

func TestAuthenticator_EstablishedHookRunsPerSession(t *testing.T) {
	session := newFakeSession()
	session.user, session.password = "SYSTEM", "manager"
	auth := NewAuthenticator(session, nil, nil)
	calls := 0
	auth.established = func(context.Context) { calls++ }
	ctx := context.Background()

	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	assert.Equal(t, 1, calls)

	require.NoError(t, session.Close())
	require.NoError(t, auth.Authenticate(ctx, basic("SYSTEM", "manager")))
	assert.Equal(t, 2, calls)
}

func TestParseBasic(t *testing.T) {
	user, password, ok := parseBasic(basic("SYSTEM", "pa:ss"))
	require.True(t, ok)
	assert.Equal(t, "SYSTEM", user)
	assert.Equal(t, "pa:ss", password)

	_, _, ok = parseBasic("basic " + "U1lTVEVN")
	assert.False(t, ok)
}

func TestReconciler_RunOnce(t *testing.T) {
	c, session, clock, tasks, windows := newCoordinator(t)
	ctx := context.Background()

	task := activeTask("t1", "snap-1", clock.Now())
	tasks.Put(task)
	require.NoError(t, c.ReservePrepare("snap-1"))
	c.PrepareFreeze(ctx, task)

	r, err := NewReconciler(c, "", nil)
	require.NoError(t, err)
	r.Start()
	defer r.Stop(ctx)

	r.RunOnce()
	assert.Equal(t, 1, windows.Len())

	clock.Advance(601 * time.Second)
	r.RunOnce()
	assert.Equal(t, 0, windows.Len())
	assert.Len(t, session.thawCalls(), 1)
}

func TestReconciler_InvalidSchedule(t *testing.T) {
	c, _, _, _, _ := newCoordinator(t)
	_, err := NewReconciler(c, "not a schedule", nil)
	assert.Error(t, err)
}
