package log

import (
	"github.com/hatlonely/simpcrm/log/logger"
)

var defaultLogger logger.Logger

func init() {
	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = slog
}

// Default 进程默认日志器，text 格式输出到 stdout
func Default() logger.Logger {
	return defaultLogger
}

// NewLoggerWithOptions options 为 nil 时返回默认日志器
func NewLoggerWithOptions(options *logger.SLogOptions) (logger.Logger, error) {
	if options == nil {
		return defaultLogger, nil
	}
	return logger.NewSLogWithOptions(options)
}
