package taxdoc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aisgo/botrunner/database"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

/* ========================================================================
 * Tax Document - 税务文档解析
 * ========================================================================
 * 职责: 解析视觉模型返回的 JSON、读取已保存的文档、生成汇总
 * 技术: gjson (容错读取) + decimal (金额) + x/text (格式化)
 * ======================================================================== */

const (
	DocTypeUnknown = "unknown"
	DocTypePDF     = "pdf"

	summaryPreviewRunes = 200
)

// 汇总时累计的金额字段，同时决定展示顺序
var totalKeys = []string{"wages", "federal_withheld", "state_withheld", "interest_income", "dividend_income"}

// Amount 单个金额字段
type Amount struct {
	Key   string
	Value decimal.Decimal
}

// Label 展示名，例如 federal_withheld -> Federal Withheld
func (a Amount) Label() string {
	return Label(a.Key)
}

// Extraction 一份文档的结构化结果
type Extraction struct {
	DocType   string
	PayerName string
	TaxYear   string
	Summary   string
	Error     string
	Amounts   []Amount       // 仅包含数值型字段，按 totalKeys 优先、其余字母序排列
	Raw       database.JSONB // 原始对象，原样写入 extracted_data
}

// Heading 回复标题使用的类型名
func (e Extraction) Heading() string {
	if e.DocType == "" {
		return "Document"
	}
	return e.DocType
}

// StoredType 写入 doc_type 列的值
func (e Extraction) StoredType() string {
	if e.DocType == "" {
		return DocTypeUnknown
	}
	return e.DocType
}

// PositiveAmounts 过滤出大于 0 的金额
func (e Extraction) PositiveAmounts() []Amount {
	out := make([]Amount, 0, len(e.Amounts))
	for _, a := range e.Amounts {
		if a.Value.IsPositive() {
			out = append(out, a)
		}
	}
	return out
}

// Parse 解析模型输出
// 支持 ```json 代码块包裹；无法解析为 JSON 对象时返回 unknown 并保留前 200 个字符
func Parse(text string) Extraction {
	body := strings.TrimSpace(stripFence(text))
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		return fallback(text)
	}

	var raw database.JSONB
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return fallback(text)
	}

	root := gjson.Parse(body)
	ex := Extraction{
		DocType:   resultString(root.Get("doc_type")),
		PayerName: resultString(root.Get("payer_name")),
		TaxYear:   resultString(root.Get("tax_year")),
		Summary:   resultString(root.Get("summary")),
		Error:     resultString(root.Get("error")),
		Raw:       raw,
	}

	root.Get("amounts").ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number {
			return true
		}
		d, err := decimal.NewFromString(value.Raw)
		if err != nil {
			d = decimal.NewFromFloat(value.Float())
		}
		ex.Amounts = append(ex.Amounts, Amount{Key: key.String(), Value: d})
		return true
	})
	sortAmounts(ex.Amounts)
	return ex
}

// Failed 视觉识别失败时的结果
func Failed(err error) Extraction {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Extraction{
		DocType: DocTypeUnknown,
		Error:   msg,
		Raw:     database.JSONB{"doc_type": DocTypeUnknown, "error": msg},
	}
}

// FromData 从已保存的 extracted_data 还原
func FromData(data database.JSONB) Extraction {
	ex := Extraction{
		DocType:   anyString(data["doc_type"]),
		PayerName: anyString(data["payer_name"]),
		TaxYear:   anyString(data["tax_year"]),
		Summary:   anyString(data["summary"]),
		Error:     anyString(data["error"]),
		Raw:       data,
	}

	amounts, _ := data["amounts"].(map[string]interface{})
	for key, v := range amounts {
		d, ok := toDecimal(v)
		if !ok {
			continue
		}
		ex.Amounts = append(ex.Amounts, Amount{Key: key, Value: d})
	}
	sortAmounts(ex.Amounts)
	return ex
}

func fallback(text string) Extraction {
	preview := text
	if r := []rune(text); len(r) > summaryPreviewRunes {
		preview = string(r[:summaryPreviewRunes])
	}
	return Extraction{
		DocType: DocTypeUnknown,
		Summary: preview,
		Raw:     database.JSONB{"doc_type": DocTypeUnknown, "summary": preview},
	}
}

func stripFence(text string) string {
	if _, after, ok := strings.Cut(text, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return body
	}
	if _, after, ok := strings.Cut(text, "```"); ok {
		body, _, _ := strings.Cut(after, "```")
		return body
	}
	return text
}

func resultString(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number:
		return r.String()
	default:
		return ""
	}
}

func anyString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return decimal.NewFromFloat(t).String()
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func sortAmounts(amounts []Amount) {
	rank := func(key string) int {
		for i, k := range totalKeys {
			if k == key {
				return i
			}
		}
		return len(totalKeys)
	}
	sort.SliceStable(amounts, func(i, j int) bool {
		ri, rj := rank(amounts[i].Key), rank(amounts[j].Key)
		if ri != rj {
			return ri < rj
		}
		return amounts[i].Key < amounts[j].Key
	})
}
