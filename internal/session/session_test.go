package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prenotabot/internal/models"
)

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateNeedService))
	assert.True(t, CanTransition(StateChoose, StateConfirm))
	assert.True(t, CanTransition(StateConfirm, StateNeedWhen))
	assert.True(t, CanTransition(StateConfirm, StateIdle))

	assert.True(t, CanTransition(StateNeedService, StateConfirm))

	// A fruitless search re-asks for date and time from either partial state.
	assert.True(t, CanTransition(StateNeedDate, StateNeedWhen))
	assert.True(t, CanTransition(StateNeedTime, StateNeedWhen))

	assert.False(t, CanTransition(StateIdle, StateIdle))
	assert.False(t, CanTransition(StateNeedTime, StateNeedDate))
}

func TestTransitionAtomicity(t *testing.T) {
	sess := New("shop1", "393331234567")

	// Illegal target state: nothing changes.
	err := sess.Transition(StateConfirm, Payload{})
	require.Error(t, err)
	assert.Equal(t, StateIdle, sess.State)

	// Legal target but invalid payload: nothing changes either.
	err = sess.Transition(StateChoose, Payload{})
	require.Error(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Empty(t, sess.Payload.Offers)

	cand := models.Candidate{Start: time.Now(), End: time.Now().Add(30 * time.Minute)}
	err = sess.Transition(StateChoose, Payload{ServiceName: "Taglio", Offers: []models.Candidate{cand}})
	require.NoError(t, err)
	assert.Equal(t, StateChoose, sess.State)
	assert.Len(t, sess.Payload.Offers, 1)

	err = sess.Transition(StateConfirm, Payload{ServiceName: "Taglio", Chosen: &cand})
	require.NoError(t, err)
	assert.Equal(t, StateConfirm, sess.State)
}

func TestValidate(t *testing.T) {
	sess := New("shop1", "393331234567")
	require.NoError(t, sess.Validate())

	sess.State = StateChoose
	assert.Error(t, sess.Validate(), "choose requires offers")

	sess.State = StateConfirm
	assert.Error(t, sess.Validate(), "confirm requires a chosen candidate")

	sess.State = State("bogus")
	assert.Error(t, sess.Validate())
}

func TestExpired(t *testing.T) {
	sess := New("shop1", "393331234567")
	assert.False(t, sess.Expired(time.Hour))
	assert.False(t, sess.Expired(0), "zero TTL disables expiry")

	sess.UpdatedAt = time.Now().Add(-2 * time.Hour)
	assert.True(t, sess.Expired(time.Hour))
}
