package router

import (
	"regexp"
	"strings"
)

type cue struct {
	pattern *regexp.Regexp
	weight  int
}

func phrases(weight int, words ...string) []cue {
	out := make([]cue, len(words))
	for i, w := range words {
		out[i] = cue{pattern: regexp.MustCompile(`(?i)` + w), weight: weight}
	}
	return out
}

var dynamicCues = concat(
	phrases(3, `\bgroup(ed)? by\b`, `\bbreak ?down\b`, `\btop\s*\d+\b`, `前\s*[0-9一二三四五六七八九十]+\s*(名|个|位)?`, `分组`, `排名`),
	phrases(2, `\bper (client|session|type|month|week|category)\b`, `\bby (client|type|month|week|category|status)\b`,
		`\baverage\b`, `\bavg\b`, `\brank(ing)?\b`, `\bdistribution\b`, `\bcompare\b`,
		`每个`, `每位`, `每月`, `按.{1,6}(统计|汇总|分)`, `平均`, `对比`, `分布`),
	phrases(1, `\b(highest|lowest|most|least|largest|smallest)\b`, `\beach\b`, `\btrend\b`,
		`最高`, `最低`, `最多`, `最少`, `统计`),
)

var structuredCues = concat(
	phrases(2, `^\s*(create|add|new|record|log|schedule)\b`, `^\s*(update|change|set|mark|rename)\b`,
		`^\s*(delete|remove|cancel)\b`, `^\s*(创建|添加|新建|记录|修改|更新|删除|取消)`),
	phrases(1, `\b(list|show|find|get|total|sum)\b`, `列出`, `显示`, `查找`, `查询`, `总额`, `合计`, `总共`),
)

func concat(groups ...[]cue) []cue {
	var out []cue
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func score(text string, cues []cue) int {
	total := 0
	for _, c := range cues {
		if c.pattern.MatchString(text) {
			total += c.weight
		}
	}
	return total
}

// Score rates how strongly text reads as an analytical (dynamic) request
// versus a direct record operation (structured)
func Score(text string) (dynamic, structured int) {
	t := strings.TrimSpace(text)
	return score(t, dynamicCues), score(t, structuredCues)
}
