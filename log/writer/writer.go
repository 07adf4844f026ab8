package writer

import (
	"fmt"
	"io"
)

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

// Options 输出器配置，Type 为空时输出到控制台
type Options struct {
	// 输出类型：console, file
	Type    string                `cfg:"type" validate:"omitempty,oneof=console file"`
	Console *ConsoleWriterOptions `cfg:"console"`
	File    *FileWriterOptions    `cfg:"file"`
}

// NewWriterWithOptions 根据类型创建输出器
func NewWriterWithOptions(options *Options) (Writer, error) {
	if options == nil {
		return NewConsoleWriterWithOptions(nil)
	}
	switch options.Type {
	case "", "console":
		return NewConsoleWriterWithOptions(options.Console)
	case "file":
		return NewFileWriterWithOptions(options.File)
	default:
		return nil, fmt.Errorf("unsupported writer type: %s", options.Type)
	}
}
