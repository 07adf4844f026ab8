package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testStoreOptions struct {
	Driver      string            `cfg:"driver" def:"sqlite3" validate:"oneof=sqlite3 gorm"`
	Database    string            `cfg:"database" validate:"required"`
	MaxConns    int               `cfg:"maxConns" def:"1"`
	BusyTimeout time.Duration     `cfg:"busyTimeout" def:"5s"`
	Pragmas     map[string]string `cfg:"pragmas"`
}

type testOptions struct {
	Store           testStoreOptions `cfg:"store"`
	RefreshInterval time.Duration    `cfg:"refreshInterval" def:"10s"`
	Tags            []string         `cfg:"tags"`
	Debug           bool             `cfg:"debug"`
	Log             *testLogOptions  `cfg:"log"`
}

type testLogOptions struct {
	Level string `cfg:"level" def:"info"`
}

func writeFile(t *testing.T, name, content string) string {
	filename := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoad(t *testing.T) {
	Convey("Load 不同格式", t, func() {
		Convey("yaml", func() {
			filename := writeFile(t, "app.yaml", `
store:
  database: crm.db
  busyTimeout: 2s
  pragmas:
    journal_mode: WAL
refreshInterval: 1m
tags: [a, b]
debug: true
`)
			var options testOptions
			So(Load(filename, &options), ShouldBeNil)
			So(options.Store.Driver, ShouldEqual, "sqlite3")
			So(options.Store.Database, ShouldEqual, "crm.db")
			So(options.Store.MaxConns, ShouldEqual, 1)
			So(options.Store.BusyTimeout, ShouldEqual, 2*time.Second)
			So(options.Store.Pragmas, ShouldResemble, map[string]string{"journal_mode": "WAL"})
			So(options.RefreshInterval, ShouldEqual, time.Minute)
			So(options.Tags, ShouldResemble, []string{"a", "b"})
			So(options.Debug, ShouldBeTrue)
			So(options.Log, ShouldNotBeNil)
			So(options.Log.Level, ShouldEqual, "info")
		})

		Convey("json", func() {
			filename := writeFile(t, "app.json", `{"store": {"database": "crm.db", "maxConns": 4}, "log": {"level": "debug"}}`)
			var options testOptions
			So(Load(filename, &options), ShouldBeNil)
			So(options.Store.MaxConns, ShouldEqual, 4)
			So(options.Store.BusyTimeout, ShouldEqual, 5*time.Second)
			So(options.RefreshInterval, ShouldEqual, 10*time.Second)
			So(options.Log.Level, ShouldEqual, "debug")
		})

		Convey("toml", func() {
			filename := writeFile(t, "app.toml", `
refreshInterval = "500ms"

[store]
driver = "gorm"
database = ":memory:"
`)
			var options testOptions
			So(Load(filename, &options), ShouldBeNil)
			So(options.Store.Driver, ShouldEqual, "gorm")
			So(options.Store.Database, ShouldEqual, ":memory:")
			So(options.RefreshInterval, ShouldEqual, 500*time.Millisecond)
		})

		Convey("ini 的点号 section 表示嵌套", func() {
			filename := writeFile(t, "app.ini", `
refreshInterval = 3s
tags = x, y

[store]
database = crm.db
maxConns = 2

[store.pragmas]
foreign_keys = ON
`)
			var options testOptions
			So(Load(filename, &options), ShouldBeNil)
			So(options.RefreshInterval, ShouldEqual, 3*time.Second)
			So(options.Tags, ShouldResemble, []string{"x", "y"})
			So(options.Store.Database, ShouldEqual, "crm.db")
			So(options.Store.MaxConns, ShouldEqual, 2)
			So(options.Store.Pragmas["foreign_keys"], ShouldEqual, "ON")
		})
	})

	Convey("Load 错误处理", t, func() {
		Convey("未知扩展名", func() {
			var options testOptions
			So(Load("app.xml", &options), ShouldNotBeNil)
		})

		Convey("文件不存在", func() {
			var options testOptions
			So(Load(filepath.Join(t.TempDir(), "missing.yaml"), &options), ShouldNotBeNil)
		})

		Convey("校验失败", func() {
			filename := writeFile(t, "app.yaml", "store:\n  driver: mysql\n  database: crm.db\n")
			var options testOptions
			err := Load(filename, &options)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "driver")
		})

		Convey("缺少必填项", func() {
			var options testOptions
			So(LoadBytes(FormatYAML, []byte("debug: true\n"), &options), ShouldNotBeNil)
		})

		Convey("类型不匹配", func() {
			var options testOptions
			So(LoadBytes(FormatYAML, []byte("store: 1\n"), &options), ShouldNotBeNil)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	Convey("SetDefaults", t, func() {
		Convey("只填充零值字段", func() {
			options := testStoreOptions{MaxConns: 8}
			So(SetDefaults(&options), ShouldBeNil)
			So(options.MaxConns, ShouldEqual, 8)
			So(options.Driver, ShouldEqual, "sqlite3")
			So(options.BusyTimeout, ShouldEqual, 5*time.Second)
		})

		Convey("没有默认值的 nil 指针保持 nil", func() {
			var options struct {
				Inner *struct {
					Path string `cfg:"path"`
				}
			}
			So(SetDefaults(&options), ShouldBeNil)
			So(options.Inner, ShouldBeNil)
		})

		Convey("非法参数", func() {
			So(SetDefaults(nil), ShouldNotBeNil)
			So(SetDefaults(testStoreOptions{}), ShouldNotBeNil)
		})

		Convey("非法默认值", func() {
			var options struct {
				N int `def:"abc"`
			}
			So(SetDefaults(&options), ShouldNotBeNil)
		})
	})
}

func TestFormatOf(t *testing.T) {
	Convey("FormatOf", t, func() {
		for filename, format := range map[string]Format{
			"a.json": FormatJSON,
			"a.yml":  FormatYAML,
			"a.YAML": FormatYAML,
			"a.toml": FormatTOML,
			"a.ini":  FormatINI,
		} {
			f, err := FormatOf(filename)
			So(err, ShouldBeNil)
			So(f, ShouldEqual, format)
		}
		_, err := FormatOf("noext")
		So(err, ShouldNotBeNil)
	})
}
