package admin

// DefaultInboundParam 入站回调携带密钥的查询参数名
const DefaultInboundParam = "key"

// InboundConfig SendGrid Inbound Parse 回调配置
// SendGrid 无法附加自定义请求头，密钥通过查询参数传递
type InboundConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Secret  string `yaml:"secret" mapstructure:"secret"`
	Param   string `yaml:"param" mapstructure:"param"`
}

// ParamName 返回查询参数名
func (c InboundConfig) ParamName() string {
	if c.Param == "" {
		return DefaultInboundParam
	}
	return c.Param
}
