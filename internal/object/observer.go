package object

import "github.com/oszuidwest/zwfm-audioplane/internal/types"

// Observer receives lifecycle events from the audio objects. Implementations
// are called from object goroutines and must not block.
type Observer interface {
	StateChanged(object string, from, to types.State)
	Replied(reply types.Reply)
	Attention(object string, code types.Result, message string)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) StateChanged(string, types.State, types.State) {}
func (NopObserver) Replied(types.Reply)                           {}
func (NopObserver) Attention(string, types.Result, string)        {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) StateChanged(object string, from, to types.State) {
	for _, obs := range o {
		obs.StateChanged(object, from, to)
	}
}

func (o Observers) Replied(reply types.Reply) {
	for _, obs := range o {
		obs.Replied(reply)
	}
}

func (o Observers) Attention(object string, code types.Result, message string) {
	for _, obs := range o {
		obs.Attention(object, code, message)
	}
}
