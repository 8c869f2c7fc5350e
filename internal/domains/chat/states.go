package chat

import (
	"context"

	"github.com/looplab/fsm"
)

type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateReady          State = "ready"
	StateStreamingAudio State = "streaming_audio"
	StateDisconnected   State = "disconnected"
	StateError          State = "error"
	StateEnded          State = "ended"
)

type sessionEvent string

const (
	evStart     sessionEvent = "start"
	evRestart   sessionEvent = "restart"
	evConnected sessionEvent = "connected"
	evMicOn     sessionEvent = "mic_on"
	evMicOff    sessionEvent = "mic_off"
	evDrop      sessionEvent = "drop"
	evFail      sessionEvent = "fail"
	evEnd       sessionEvent = "end"
)

type InputMode string

const (
	InputText  InputMode = "text"
	InputAudio InputMode = "audio"
)

//	idle -> connecting -> ready <-> streaming_audio
//	any live state -> disconnected | error, any -> ended
func newStateMachine() *fsm.FSM {
	live := []string{string(StateConnecting), string(StateReady), string(StateStreamingAudio)}
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: string(evStart), Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: string(evRestart), Src: []string{string(StateEnded), string(StateError), string(StateDisconnected)}, Dst: string(StateConnecting)},
			{Name: string(evConnected), Src: []string{string(StateConnecting), string(StateDisconnected)}, Dst: string(StateReady)},
			{Name: string(evMicOn), Src: []string{string(StateReady)}, Dst: string(StateStreamingAudio)},
			{Name: string(evMicOff), Src: []string{string(StateStreamingAudio)}, Dst: string(StateReady)},
			{Name: string(evDrop), Src: live, Dst: string(StateDisconnected)},
			{Name: string(evFail), Src: append(live, string(StateDisconnected)), Dst: string(StateError)},
			{Name: string(evEnd), Src: append(live, string(StateIdle), string(StateDisconnected), string(StateError)), Dst: string(StateEnded)},
		},
		fsm.Callbacks{},
	)
}

func fire(m *fsm.FSM, ev sessionEvent) bool {
	return m.Event(context.Background(), string(ev)) == nil
}
