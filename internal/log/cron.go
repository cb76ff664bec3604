package log

import "github.com/robfig/cron/v3"

type cronLogger struct{}

// Cron adapts this package to cron.Logger. Routine scheduler chatter goes to
// DEBUG so it stays out of normal output.
func Cron() cron.Logger {
	return cronLogger{}
}

func (cronLogger) Info(msg string, kv ...any) {
	logWithLevel(LevelDebug, "cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	Error("cron: "+msg, err, kv...)
}
