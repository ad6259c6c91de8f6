package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateUploading, next)

	next, err = Transition(next, EventUploaded)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingHandshake, next)

	next, err = Transition(next, EventOpened)
	require.NoError(t, err)
	require.Equal(t, StateStreaming, next)

	next, err = Transition(next, EventEnd)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, next)
	require.True(t, next.Terminal())
}

func TestTransitionFailFromActiveStatesGoesFailed(t *testing.T) {
	for _, state := range []State{StateUploading, StateAwaitingHandshake, StateStreaming} {
		require.True(t, state.Active())
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateFailed, next)
	}
}

func TestTransitionRestartFromTerminalStates(t *testing.T) {
	for _, state := range []State{StateIdle, StateCompleted, StateFailed} {
		next, err := Transition(state, EventStart)
		require.NoError(t, err)
		require.Equal(t, StateUploading, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle end invalid", state: StateIdle, event: EventEnd, want: StateIdle, wantErr: true},
		{name: "idle fail invalid", state: StateIdle, event: EventFail, want: StateIdle, wantErr: true},
		{name: "idle cancel no-op", state: StateIdle, event: EventCancel, want: StateIdle},
		{name: "uploading start invalid", state: StateUploading, event: EventStart, want: StateUploading, wantErr: true},
		{name: "uploading opened invalid", state: StateUploading, event: EventOpened, want: StateUploading, wantErr: true},
		{name: "awaiting end invalid", state: StateAwaitingHandshake, event: EventEnd, want: StateAwaitingHandshake, wantErr: true},
		{name: "streaming start invalid", state: StateStreaming, event: EventStart, want: StateStreaming, wantErr: true},
		{name: "streaming opened invalid", state: StateStreaming, event: EventOpened, want: StateStreaming, wantErr: true},
		{name: "streaming cancel", state: StateStreaming, event: EventCancel, want: StateIdle},
		{name: "completed end invalid", state: StateCompleted, event: EventEnd, want: StateCompleted, wantErr: true},
		{name: "completed fail invalid", state: StateCompleted, event: EventFail, want: StateCompleted, wantErr: true},
		{name: "completed cancel keeps state", state: StateCompleted, event: EventCancel, want: StateCompleted},
		{name: "failed opened invalid", state: StateFailed, event: EventOpened, want: StateFailed, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestDiagnosisTransition(t *testing.T) {
	next, err := DiagnosisTransition(DiagnosisIdle, EventStart)
	require.NoError(t, err)
	require.Equal(t, DiagnosisRunning, next)

	done, err := DiagnosisTransition(next, EventEnd)
	require.NoError(t, err)
	require.Equal(t, DiagnosisCompleted, done)

	failed, err := DiagnosisTransition(next, EventFail)
	require.NoError(t, err)
	require.Equal(t, DiagnosisFailed, failed)

	_, err = DiagnosisTransition(DiagnosisRunning, EventStart)
	require.Error(t, err)

	_, err = DiagnosisTransition(DiagnosisRunning, EventOpened)
	require.Error(t, err)

	for _, state := range []DiagnosisState{DiagnosisIdle, DiagnosisRunning, DiagnosisCompleted, DiagnosisFailed} {
		reset, err := DiagnosisTransition(state, EventCancel)
		require.NoError(t, err)
		require.Equal(t, DiagnosisIdle, reset)
	}

	_, err = DiagnosisTransition(DiagnosisState("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown diagnosis state")
}
