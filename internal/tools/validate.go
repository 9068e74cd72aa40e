package tools

import "regexp"

var (
	codeFenceRE  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRE = regexp.MustCompile("`[^`]*`")
	mdLinkRE     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	urlRE        = regexp.MustCompile(`https?://\S+`)
	pipeRE       = regexp.MustCompile(`\|`)

	englishWordRE = regexp.MustCompile(`[A-Za-z]+(?:['’-][A-Za-z]+)?`)
	chineseCharRE = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
)

// stripForLanguageDetection removes code fences, inline code, markdown
// link syntax (keeping link text), URLs, and pipe characters before
// counting English/Chinese tokens.
func stripForLanguageDetection(text string) string {
	text = codeFenceRE.ReplaceAllString(text, "")
	text = inlineCodeRE.ReplaceAllString(text, "")
	text = mdLinkRE.ReplaceAllString(text, "$1")
	text = urlRE.ReplaceAllString(text, "")
	text = pipeRE.ReplaceAllString(text, " ")
	return text
}

// languageProfile is the result of counting English words vs Chinese
// characters in a stripped document.
type languageProfile struct {
	EnglishWords  int
	ChineseChars  int
	Primary       string // "en" or "zh-CN"
	ChineseRatio  float64
}

func detectLanguage(markdown string) languageProfile {
	stripped := stripForLanguageDetection(markdown)
	englishWords := len(englishWordRE.FindAllString(stripped, -1))
	chineseChars := len(chineseCharRE.FindAllString(stripped, -1))

	total := englishWords + chineseChars
	ratio := 0.0
	if total > 0 {
		ratio = float64(chineseChars) / float64(total)
	}
	primary := "en"
	if ratio > 0.5 {
		primary = "zh-CN"
	}
	return languageProfile{EnglishWords: englishWords, ChineseChars: chineseChars, Primary: primary, ChineseRatio: ratio}
}
