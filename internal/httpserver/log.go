package httpserver

import (
	"log"

	"github.com/google/uuid"
)

// reqLog prefixes every line with a short id so the lines of concurrent
// requests can be told apart.
type reqLog struct {
	id string
}

func newReqLog() reqLog {
	return reqLog{id: uuid.NewString()[:8]}
}

func (l reqLog) Printf(format string, v ...any) {
	log.Printf("req %s: "+format, append([]any{l.id}, v...)...)
}
