package sse

import (
	"encoding/json"

	"github.com/kasuganosora/gamedb/game/binder"
)

func snapshot(name, text string) []byte {
	b, _ := json.Marshal(binder.Update{Binder: name, Text: text})
	return b
}
