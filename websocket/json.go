package websocket

import (
	"encoding/json"
)

// SendJSON queues the JSON encoding of v as a text message.
func (e *Engine) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.send(Frame{Opcode: OpText, Fin: true, Payload: data}, writeNormal)
}

// JSONHandler adapts fn into an OnText handler that decodes every text
// message into a fresh T. Decoding failures are passed to onErr when set.
func JSONHandler[T any](fn func(T), onErr func(error)) func(string) {
	return func(text string) {
		var v T
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(v)
	}
}
