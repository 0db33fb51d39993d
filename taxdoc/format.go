package taxdoc

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	NoDocuments = "No documents collected yet."

	TaxHelpPrompt = "📋 **Tax Document Assistant**\n\n" +
		"1️⃣ **Send photos** of W-2s, 1099s, receipts\n" +
		"2️⃣ I'll **extract the numbers**\n" +
		"3️⃣ Say \"**show summary**\" to review\n" +
		"4️⃣ Say \"**email summary to you@email.com**\" to send\n\n" +
		"Ready! 📸"
)

var (
	rule = strings.Repeat("=", 40)

	emailPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)

	taxKeywords    = []string{"tax", "taxes", "w-2", "w2", "1099", "refund", "irs", "accountant", "filing", "1098"}
	emailQuestions = []string{
		"my email", "what email", "email address", "whats my email", "what's my email",
		"my address", "receive email", "send me email", "email me at",
	}
)

// Label 字段名转展示名
// cases.Caser 有状态，不能跨 goroutine 共享，每次新建
func Label(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// Money 金额格式化为 $1,234.56
func Money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return message.NewPrinter(language.English).Sprintf("$%.2f", f)
}

// Summary 生成全部文档的文本汇总
func Summary(docs []Extraction) string {
	if len(docs) == 0 {
		return NoDocuments
	}

	var b strings.Builder
	b.WriteString("TAX DOCUMENT SUMMARY\n")
	b.WriteString(rule)
	b.WriteString("\n\n")

	totals := make(map[string]decimal.Decimal, len(totalKeys))
	for _, doc := range docs {
		b.WriteString(orUnknown(doc.DocType))
		b.WriteString(" - ")
		b.WriteString(orUnknown(doc.PayerName))
		b.WriteString("\n")
		for _, a := range doc.PositiveAmounts() {
			b.WriteString("   " + a.Label() + ": " + Money(a.Value) + "\n")
			if isTotalKey(a.Key) {
				totals[a.Key] = totals[a.Key].Add(a.Value)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(rule)
	b.WriteString("\nTOTALS:\n")
	for _, key := range totalKeys {
		if v, ok := totals[key]; ok && v.IsPositive() {
			b.WriteString("   " + Label(key) + ": " + Money(v) + "\n")
		}
	}
	return b.String()
}

// IsTaxHelpRequest 文本是否在询问税务相关帮助
func IsTaxHelpRequest(text string) bool {
	return containsAny(strings.ToLower(text), taxKeywords)
}

// IsEmailQuestion 文本是否在询问机器人的邮箱地址
func IsEmailQuestion(text string) bool {
	return containsAny(strings.ToLower(text), emailQuestions)
}

// FindEmail 返回小写文本中的第一个邮箱地址
func FindEmail(text string) (string, bool) {
	addr := emailPattern.FindString(strings.ToLower(text))
	return addr, addr != ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isTotalKey(key string) bool {
	for _, k := range totalKeys {
		if k == key {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
