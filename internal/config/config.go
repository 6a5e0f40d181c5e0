package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// configFile 是一个已读入的配置文件：路径加上 viper 解析出的设置树。
// include 解析阶段每个文件只读一次，合并阶段直接复用这里的树。
type configFile struct {
	path     string
	settings map[string]any
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	loader := &includeLoader{seen: map[string]bool{}, stack: map[string]bool{}}
	files, err := loader.collect(abs)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	for _, f := range files {
		if err := v.MergeConfigMap(f.settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", f.path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	flattenConfigKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeLoader 深度优先展开 include 链。被包含的文件排在前面，
// 包含者最后合并（后写的覆盖先写的）；重复包含去重，环直接报错。
type includeLoader struct {
	seen  map[string]bool
	stack map[string]bool
}

func (l *includeLoader) collect(path string) ([]configFile, error) {
	path = filepath.Clean(path)
	if l.stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if l.seen[path] {
		return nil, nil
	}
	l.stack[path] = true
	defer delete(l.stack, path)

	f, err := readConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includesFrom(f.settings)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}

	dir := filepath.Dir(path)
	var ordered []configFile
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		sub, err := l.collect(inc)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	l.seen[path] = true
	return append(ordered, f), nil
}

func readConfigFile(path string) (configFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return configFile{}, err
	}
	return configFile{path: path, settings: v.AllSettings()}, nil
}

// includesFrom 取出 include 键的文件列表。yaml 解析出来的可能是
// []any 或 []string，两种都接受，非字符串元素报错。
func includesFrom(settings map[string]any) ([]string, error) {
	raw, ok := settings["include"]
	if !ok || raw == nil {
		return nil, nil
	}
	var items []any
	switch val := raw.(type) {
	case []any:
		items = val
	case []string:
		items = make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// flattenConfigKeys 把设置树压平成 "a.b.c" 形式的键集合，
// applyDefaults 据此区分“用户显式写了零值”和“压根没写”。
func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case map[any]any:
		for k, v := range val {
			if keyStr, ok := k.(string); ok {
				flattenConfigKeys(prefix, map[string]any{keyStr: v}, dest)
			}
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			flattenConfigKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
