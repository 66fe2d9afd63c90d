package rag

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SettingsSchema 引擎为创建或检索设置声明的 JSON Schema（Draft 7）
// 文档。它是惰性数据：宿主只用它渲染表单和校验配置，从不执行。
// 可识别的关键字包括 type、properties、enum、default、
// minimum/maximum、title 和 required。
type SettingsSchema map[string]any

// Compile 按 Draft 7 语法解析 schema 本身。
// schema 必须先通过编译，才能被用于校验或表单渲染。
func (s SettingsSchema) Compile() (*jsonschema.Schema, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource("settings.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("invalid settings schema: %w", err)
	}
	compiled, err := compiler.Compile("settings.json")
	if err != nil {
		return nil, fmt.Errorf("invalid settings schema: %w", err)
	}
	return compiled, nil
}

// Validate 按 schema 校验 config。config 先经过一轮 JSON 往返，
// 使 Go 的整型和浮点值与解码后的表单数据采用相同的校验规则。
func (s SettingsSchema) Validate(config map[string]any) error {
	compiled, err := s.Compile()
	if err != nil {
		return err
	}
	instance, err := normalizeJSON(config)
	if err != nil {
		return err
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("settings do not match schema: %w", err)
	}
	return nil
}

// ApplyDefaults 返回 config 的副本，
// 缺失的键按 schema 顶层属性的 default 补全
func (s SettingsSchema) ApplyDefaults(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	props, ok := s["properties"].(map[string]any)
	if !ok {
		return out
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if def, ok := prop["default"]; ok {
			if _, present := out[name]; !present {
				out[name] = def
			}
		}
	}
	return out
}

// Clone 深拷贝 schema，调用方持有副本也无法篡改引擎声明的文档
func (s SettingsSchema) Clone() SettingsSchema {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out SettingsSchema
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}
