package logging

import "go.uber.org/zap"

// CronAdapter is a cron logger adapter for Zap.
type CronAdapter struct{ *zap.SugaredLogger }

// NewCronAdapter creates a cron logger adapter from a Zap logger.
func NewCronAdapter(logger *zap.Logger) *CronAdapter {
	// cron passes keyvals pairs, hence the sugared logger
	return &CronAdapter{logger.Sugar()}
}

// Info is used by cron for schedule chatter, so it goes to debug.
func (c *CronAdapter) Info(msg string, keyvals ...interface{}) { c.Debugw(msg, keyvals...) }

func (c *CronAdapter) Error(err error, msg string, keyvals ...interface{}) {
	c.Errorw(msg, append(keyvals, "error", err)...)
}
