package appointment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    Status
		event   Event
		want    Status
		wantErr bool
	}{
		{StatusScheduled, EventConfirm, StatusConfirmed, false},
		{StatusScheduled, EventCheckIn, StatusCheckedIn, false},
		{StatusConfirmed, EventCheckIn, StatusCheckedIn, false},
		{StatusCheckedIn, EventStart, StatusInProgress, false},
		{StatusInProgress, EventComplete, StatusCompleted, false},
		{StatusInProgress, EventCancel, StatusCancelled, false},
		{StatusConfirmed, EventNoShow, StatusNoShow, false},
		{StatusCompleted, EventCheckIn, "", true},
		{StatusCancelled, EventConfirm, "", true},
		{StatusNoShow, EventCancel, "", true},
		{StatusScheduled, EventComplete, "", true},
		{StatusConfirmed, EventConfirm, "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				var te *TransitionError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, tt.from, te.From)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent("check_in")
	require.NoError(t, err)
	assert.Equal(t, EventCheckIn, ev)

	_, err = ParseEvent("teleport")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = ParseEvent("reschedule")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress} {
		assert.False(t, s.Terminal(), s)
	}
}
