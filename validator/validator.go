package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

/* ========================================================================
 * Validator - 请求体验证
 * ========================================================================
 * 职责: 基于 go-playground/validator 校验管理接口请求体
 * 特性:
 *   - 错误按 json 字段名归组
 *   - error_msg 标签自定义消息，格式 "required:必填|min:太短"
 *   - 解析后的 error_msg 按 类型+字段 缓存
 * ======================================================================== */

// Validator 验证器，可并发使用
type Validator struct {
	validate *validator.Validate
	messages sync.Map // "pkg.Type/Field.Sub" -> map[rule]message
}

// New 创建验证器
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate 校验结构体，失败时返回 *ValidationError
func (v *Validator) Validate(s interface{}) error {
	if s == nil {
		return nil
	}
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	root := reflect.TypeOf(s)
	for root.Kind() == reflect.Ptr {
		root = root.Elem()
	}

	out := &ValidationError{}
	for _, fe := range fieldErrs {
		msg := v.customMessage(root, fe.StructNamespace(), fe.Tag())
		if msg == "" {
			msg = fe.Error()
		}
		out.Add(trimRoot(fe.Namespace()), msg)
	}
	return out
}

// customMessage 查找字段 error_msg 中 rule 对应的消息
func (v *Validator) customMessage(root reflect.Type, namespace, rule string) string {
	key := root.PkgPath() + "." + root.Name() + "/" + namespace
	if cached, ok := v.messages.Load(key); ok {
		return cached.(map[string]string)[rule]
	}

	rules := parseErrorMessageTag(lookupTag(root, trimRoot(namespace)))
	v.messages.Store(key, rules)
	return rules[rule]
}

// lookupTag 沿 Go 字段路径取 error_msg 标签
func lookupTag(t reflect.Type, path string) string {
	var field reflect.StructField
	for _, name := range strings.Split(path, ".") {
		for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice || t.Kind() == reflect.Map {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return ""
		}
		if i := strings.IndexByte(name, '['); i >= 0 {
			name = name[:i]
		}
		f, ok := t.FieldByName(name)
		if !ok {
			return ""
		}
		field, t = f, f.Type
	}
	return field.Tag.Get(tagCustom)
}

func parseErrorMessageTag(tag string) map[string]string {
	rules := make(map[string]string)
	if tag == "" {
		return rules
	}
	for _, part := range strings.Split(tag, ruleSeparator) {
		if k, msg, ok := strings.Cut(part, keyValueSep); ok {
			rules[strings.TrimSpace(k)] = strings.TrimSpace(msg)
		}
	}
	return rules
}

// trimRoot 去掉命名空间中的根类型名
func trimRoot(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
