package compiler

// Supported message locales
const (
	LocaleEN = "en"
	LocaleZH = "zh"
)

type messageKey int

const (
	msgCompileFailed messageKey = iota
	msgEmptyInput
)

var messages = map[string]map[messageKey]string{
	LocaleEN: {
		msgCompileFailed: "the request could not be understood",
		msgEmptyInput:    "the request is empty",
	},
	LocaleZH: {
		msgCompileFailed: "无法理解该请求",
		msgEmptyInput:    "请求内容为空",
	},
}

var suggestions = map[string][]string{
	LocaleEN: {
		"name the record type, for example \"session\" or \"client\"",
		"include names and dates, for example \"Alex's sessions this month\"",
		"split several actions into separate requests",
	},
	LocaleZH: {
		"请说明记录类型，例如“课程”或“客户”",
		"请包含名称和日期，例如“Alex 本月的课程”",
		"多个操作请分开描述",
	},
}

func message(locale string, key messageKey) string {
	if m, ok := messages[locale][key]; ok {
		return m
	}
	return messages[LocaleEN][key]
}

// Suggestions returns the rephrasing hints for a locale
func Suggestions(locale string) []string {
	if s, ok := suggestions[locale]; ok {
		return append([]string(nil), s...)
	}
	return append([]string(nil), suggestions[LocaleEN]...)
}
