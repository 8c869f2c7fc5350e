package media

import (
	"context"

	"github.com/looplab/fsm"
)

type Phase string

const (
	Disconnected Phase = "disconnected"
	Connecting   Phase = "connecting"
	Signaling    Phase = "signaling"
	Connected    Phase = "connected"
	Streaming    Phase = "streaming"
	Failed       Phase = "error"
)

type phaseEvent string

const (
	evConnect      phaseEvent = "connect"
	evOpen         phaseEvent = "open"
	evICEConnected phaseEvent = "ice_connected"
	evStartStream  phaseEvent = "start_stream"
	evStopStream   phaseEvent = "stop_stream"
	evFail         phaseEvent = "fail"
	evDrop         phaseEvent = "drop"
)

//	disconnected -> connecting -> signaling -> connected <-> streaming
//	disconnected -> connected when ICE recovers
//	any -> error | disconnected
func newStateMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(Disconnected),
		fsm.Events{
			{Name: string(evConnect), Src: []string{string(Disconnected), string(Failed)}, Dst: string(Connecting)},
			{Name: string(evOpen), Src: []string{string(Connecting), string(Disconnected)}, Dst: string(Signaling)},
			{Name: string(evICEConnected), Src: []string{string(Signaling), string(Disconnected)}, Dst: string(Connected)},
			{Name: string(evStartStream), Src: []string{string(Connected)}, Dst: string(Streaming)},
			{Name: string(evStopStream), Src: []string{string(Streaming)}, Dst: string(Connected)},
			{Name: string(evFail), Src: []string{string(Connecting), string(Signaling), string(Connected), string(Streaming), string(Disconnected)}, Dst: string(Failed)},
			{Name: string(evDrop), Src: []string{string(Connecting), string(Signaling), string(Connected), string(Streaming), string(Failed)}, Dst: string(Disconnected)},
		},
		fsm.Callbacks{},
	)
}

// fire applies ev and reports whether the phase changed. Events that are
// invalid in the current phase are ignored.
func fire(m *fsm.FSM, ev phaseEvent) bool {
	return m.Event(context.Background(), string(ev)) == nil
}
