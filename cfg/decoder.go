package cfg

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Format 配置文件格式
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatINI  Format = "ini"
)

// FormatOf 根据文件扩展名推断格式
func FormatOf(filename string) (Format, error) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "", errors.Errorf("cannot infer config format from %q", filename)
	}
	switch strings.ToLower(filename[idx+1:]) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "ini":
		return FormatINI, nil
	}
	return "", errors.Errorf("unsupported config format %q", filename[idx+1:])
}

// Decode 将配置内容解码为 map
func Decode(format Format, data []byte) (map[string]any, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatYAML:
		return decodeYAML(data)
	case FormatTOML:
		return decodeTOML(data)
	case FormatINI:
		return decodeINI(data)
	}
	return nil, errors.Errorf("unsupported config format %q", format)
}

func decodeJSON(data []byte) (map[string]any, error) {
	result := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return result, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON")
	}
	return result, nil
}

func decodeYAML(data []byte) (map[string]any, error) {
	result := map[string]any{}
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode YAML")
	}
	return result, nil
}

func decodeTOML(data []byte) (map[string]any, error) {
	result := map[string]any{}
	if _, err := toml.Decode(string(data), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode TOML")
	}
	return result, nil
}

// decodeINI section 名中的点号表示嵌套，例如 [store.pragmas]
func decodeINI(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode INI")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(section.Name(), ".") {
				sub, ok := target[part].(map[string]any)
				if !ok {
					sub = map[string]any{}
					target[part] = sub
				}
				target = sub
			}
		}
		for _, key := range section.Keys() {
			target[key.Name()] = iniValue(key.String())
		}
	}
	return result, nil
}

// iniValue INI 的值都是字符串，尝试还原布尔和数值
func iniValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
