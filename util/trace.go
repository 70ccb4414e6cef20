package util

import (
	"time"

	"github.com/rs/zerolog"
)

// Trace 记录一段处理的耗时
//
//	defer util.Trace(logger, "remove background")()
func Trace(logger *zerolog.Logger, msg string) func() {
	start := time.Now()
	return func() {
		logger.Debug().Dur("elapsed", time.Since(start)).Msg(msg)
	}
}
