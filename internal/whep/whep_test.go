package whep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WinterCore/octopus/internal/engine"
)

// These tests deliberately avoid a real Offer/Answer/ICE round-trip: that requires two live
// PeerConnections gathering host candidates and a reachable UDP path, which is unavailable in a
// sandboxed test environment and isn't worth the flakiness. The session-bookkeeping this package
// layers on top of pion is tested directly instead.

func newTestServer(t *testing.T) *Server {
	t.Helper()
	a := engine.NewActor(500)
	go a.Run()

	s, err := New(engine.NewHandle(a))
	require.NoError(t, err)
	return s
}

func TestSessionCountStartsAtZero(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, 0, s.SessionCount())
}

func TestCloseUnknownSessionIsNoOp(t *testing.T) {
	s := newTestServer(t)
	s.Close("not-a-real-session-id")
	assert.Equal(t, 0, s.SessionCount())
}
