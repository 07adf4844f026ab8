package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewSLogWithOptions(t *testing.T) {
	Convey("NewSLogWithOptions", t, func() {
		Convey("options 为 nil", func() {
			l, err := NewSLogWithOptions(nil)
			So(err, ShouldNotBeNil)
			So(l, ShouldBeNil)
		})

		Convey("默认控制台输出", func() {
			l, err := NewSLogWithOptions(&SLogOptions{Level: "info"})
			So(err, ShouldBeNil)
			So(l, ShouldNotBeNil)
		})

		Convey("非法级别", func() {
			_, err := NewSLogWithOptions(&SLogOptions{Level: "invalid"})
			So(err, ShouldNotBeNil)
		})

		Convey("非法格式", func() {
			_, err := NewSLogWithOptions(&SLogOptions{Format: "xml"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSLogOutput(t *testing.T) {
	Convey("SLog 输出", t, func() {
		var buf bytes.Buffer
		l, err := NewSLogWithWriter(&buf, &SLogOptions{
			Level:  "debug",
			Format: "json",
			Fields: map[string]any{"app": "simpcrm"},
		})
		So(err, ShouldBeNil)

		l.With("component", "entity").WithGroup("ddl").InfoContext(context.Background(), "table created", "table", "customers")

		var record map[string]any
		So(json.Unmarshal(buf.Bytes(), &record), ShouldBeNil)
		So(record["msg"], ShouldEqual, "table created")
		So(record["app"], ShouldEqual, "simpcrm")
		So(record["component"], ShouldEqual, "entity")
		So(record["ddl"], ShouldResemble, map[string]any{"table": "customers"})

		Convey("低于级别的日志被丢弃", func() {
			buf.Reset()
			warn, err := NewSLogWithWriter(&buf, &SLogOptions{Level: "warn"})
			So(err, ShouldBeNil)
			warn.Info("ignored")
			So(buf.Len(), ShouldEqual, 0)
			warn.Warn("kept")
			So(buf.String(), ShouldContainSubstring, "kept")
		})
	})

	Convey("Nop", t, func() {
		l := Nop()
		l.Info("nothing")
		So(l.With("a", 1), ShouldNotBeNil)
	})
}
