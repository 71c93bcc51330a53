package methods

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Locale 日期与数字的显示格式
type Locale struct {
	Tag        language.Tag
	DateLayout string
	printer    *message.Printer
}

var dateLayoutByBase = map[string]string{
	"zh": "2006年1月2日",
	"ja": "2006年1月2日",
	"en": "01/02/2006",
	"de": "02.01.2006",
	"ru": "02.01.2006",
	"fr": "02/01/2006",
	"es": "02/01/2006",
}

// NewLocale 解析失败时退回 zh-CN
func NewLocale(tag string) Locale {
	t, err := language.Parse(tag)
	if err != nil {
		t = language.SimplifiedChinese
	}
	base, _ := t.Base()
	layout, ok := dateLayoutByBase[base.String()]
	if !ok {
		layout = "2006-01-02"
	}
	if t == language.BritishEnglish {
		layout = "02/01/2006"
	}
	return Locale{Tag: t, DateLayout: layout, printer: message.NewPrinter(t)}
}

func (l Locale) FormatDate(t time.Time) string {
	if l.DateLayout == "" {
		return t.Format("2006-01-02")
	}
	return t.Format(l.DateLayout)
}

func (l Locale) FormatNumber(f float64) string {
	p := l.printer
	if p == nil {
		p = message.NewPrinter(language.SimplifiedChinese)
	}
	return p.Sprint(number.Decimal(f, number.MaxFractionDigits(6)))
}
