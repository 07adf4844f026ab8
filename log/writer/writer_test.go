package writer

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewWriterWithOptions(t *testing.T) {
	Convey("NewWriterWithOptions", t, func() {
		Convey("默认输出到控制台", func() {
			w, err := NewWriterWithOptions(nil)
			So(err, ShouldBeNil)
			So(w.(*ConsoleWriter).writer, ShouldEqual, os.Stdout)
			So(w.Close(), ShouldBeNil)
		})

		Convey("stderr", func() {
			w, err := NewWriterWithOptions(&Options{Type: "console", Console: &ConsoleWriterOptions{Target: "stderr"}})
			So(err, ShouldBeNil)
			So(w.(*ConsoleWriter).writer, ShouldEqual, os.Stderr)
		})

		Convey("文件输出", func() {
			path := filepath.Join(t.TempDir(), "logs", "simpcrm.log")
			w, err := NewWriterWithOptions(&Options{Type: "file", File: &FileWriterOptions{Path: path}})
			So(err, ShouldBeNil)

			n, err := w.Write([]byte("hello\n"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 6)
			So(w.Close(), ShouldBeNil)
			So(w.Close(), ShouldBeNil)

			_, err = w.Write([]byte("again"))
			So(err, ShouldNotBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "hello\n")
		})

		Convey("文件路径为空", func() {
			_, err := NewWriterWithOptions(&Options{Type: "file"})
			So(err, ShouldNotBeNil)
		})

		Convey("未知类型", func() {
			_, err := NewWriterWithOptions(&Options{Type: "kafka"})
			So(err, ShouldNotBeNil)
		})
	})
}
