package logging

import (
	"time"

	"go.uber.org/zap"
)

// Поля SIP контекста, общие для всех компонентов

func Component(name string) zap.Field { return zap.String("component", name) }
func CallID(id string) zap.Field      { return zap.String("call_id", id) }
func Method(method string) zap.Field  { return zap.String("method", method) }
func SessionID(id string) zap.Field   { return zap.String("session_id", id) }
func State(state string) zap.Field    { return zap.String("state", state) }
func StatusCode(code int) zap.Field   { return zap.Int("status_code", code) }
func CSeq(cseq uint32) zap.Field      { return zap.Uint32("cseq", cseq) }

// Elapsed длительность операции
func Elapsed(d time.Duration) zap.Field { return zap.Duration("elapsed", d) }
