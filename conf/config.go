package conf

import (
	"bytes"
	"os"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

/* ========================================================================
 * 配置文件读取
 * ========================================================================
 * 职责: 定位配置文件，展开 ${VAR} / ${VAR:-default} 占位符，叠加 APP_* 环境变量后解码
 * 技术: Viper + mapstructure
 * ======================================================================== */

// EnvPrefix 覆盖配置项的环境变量前缀，如 APP_RUNNER_POLL_INTERVAL
const EnvPrefix = "APP"

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// expandPlaceholders 变量未设置或为空时取 default，没有 default 时替换为空串
func expandPlaceholders(raw []byte) []byte {
	return placeholderPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		sub := placeholderPattern.FindSubmatch(match)
		if val := os.Getenv(string(sub[1])); val != "" {
			return []byte(val)
		}
		return sub[2]
	})
}

// decode 将 dir 下名为 name 的配置文件解码到 out
// 文件不存在时 out 只接受环境变量覆盖
func decode(dir, name, format string, out any) error {
	path, err := locate(dir, name, format)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType(format)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := v.ReadConfig(bytes.NewReader(expandPlaceholders(raw))); err != nil {
			return err
		}
	}

	return v.Unmarshal(out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

// locate 按 viper 的搜索规则查找配置文件，未找到时返回空串
func locate(dir, name, format string) (string, error) {
	finder := viper.New()
	finder.AddConfigPath(dir)
	finder.SetConfigName(name)
	finder.SetConfigType(format)
	if err := finder.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return "", nil
		}
		return "", err
	}
	return finder.ConfigFileUsed(), nil
}
