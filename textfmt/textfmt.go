// Package textfmt turns admin-edited free text (village history, mission
// statements) into titled sections, paragraphs and lists. It is a heuristic
// formatter, not a grammar: unexpected input degrades to plain paragraphs.
package textfmt

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

type BlockKind int

const (
	Paragraph BlockKind = iota
	List
)

type Block struct {
	Kind    BlockKind
	Text    string
	Items   []string
	Ordered bool
}

type Section struct {
	Title  string
	Blocks []Block
}

type Document struct {
	Sections []Section
}

type Options struct {
	TitleMinLength int
	SoftLimit      int
	MaxSentences   int
}

func DefaultOptions() Options {
	return Options{
		TitleMinLength: 5,
		SoftLimit:      400,
		MaxSentences:   3,
	}
}

func OptionsFromConfig(config *types.TextConfig) Options {
	opts := DefaultOptions()
	if config == nil {
		return opts
	}
	if config.TitleMinLength > 0 {
		opts.TitleMinLength = config.TitleMinLength
	}
	if config.SoftLimit > 0 {
		opts.SoftLimit = config.SoftLimit
	}
	if config.MaxSentences > 0 {
		opts.MaxSentences = config.MaxSentences
	}
	return opts
}

var (
	blankLineRe   = regexp.MustCompile(`\n[ \t]*\n`)
	numberedRe    = regexp.MustCompile(`^(\d{1,3})[.)]\s+(.*)$`)
	bulletRe      = regexp.MustCompile(`^[-•*]\s+(.*)$`)
	inlineStartRe = regexp.MustCompile(`:\s*1[.)]\s+`)
	inlineMarkRe  = regexp.MustCompile(`(?:^|[\s;,])(\d{1,2})[.)]\s+`)
)

var abbreviations = map[string]struct{}{
	"kec": {}, "kab": {}, "kel": {}, "prov": {}, "no": {}, "jl": {}, "dll": {},
	"dsb": {}, "dst": {}, "dr": {}, "drs": {}, "ir": {}, "prof": {}, "hj": {},
	"h": {}, "sdr": {}, "bpk": {}, "tgl": {}, "rt": {}, "rw": {}, "st": {},
	"tsb": {}, "yth": {}, "an": {}, "ds": {},
}

type Formatter struct {
	opts   Options
	logger types.Logger
}

func New(opts Options, logger types.Logger) *Formatter {
	if opts.SoftLimit <= 0 || opts.MaxSentences <= 0 {
		opts = DefaultOptions()
	}
	return &Formatter{opts: opts, logger: logger}
}

// Parse never panics. If the heuristics fail the text comes back as one
// paragraph per blank-line block.
func (f *Formatter) Parse(text string) (doc Document) {
	defer func() {
		if r := recover(); r != nil {
			if f.logger != nil {
				f.logger.Warn("Text formatter fell back to plain paragraphs", zap.Any("panic", r))
			}
			doc = fallback(text)
		}
	}()

	return f.parse(text)
}

func (f *Formatter) parse(text string) Document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}
	}

	var sections []Section
	for _, chunk := range blankLineRe.Split(text, -1) {
		lines := nonEmptyLines(chunk)
		if len(lines) == 0 {
			continue
		}

		section := Section{}
		if f.isTitle(lines[0]) {
			section.Title = lines[0]
			lines = lines[1:]
		}
		section.Blocks = f.blocks(lines)

		// A heading standing alone in its chunk owns the next untitled chunk.
		if n := len(sections); n > 0 && section.Title == "" && sections[n-1].Title != "" && len(sections[n-1].Blocks) == 0 {
			sections[n-1].Blocks = section.Blocks
			continue
		}

		sections = append(sections, section)
	}

	return Document{Sections: sections}
}

func (f *Formatter) isTitle(line string) bool {
	if utf8.RuneCountInString(line) <= f.opts.TitleMinLength {
		return false
	}
	if numberedRe.MatchString(line) {
		return false
	}

	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}

	return hasLetter
}

func (f *Formatter) blocks(lines []string) []Block {
	var (
		out  []Block
		text []string
		list *Block
	)

	flushText := func() {
		if len(text) > 0 {
			out = append(out, f.prose(strings.Join(text, " "))...)
			text = nil
		}
	}
	flushList := func() {
		if list != nil {
			out = append(out, *list)
			list = nil
		}
	}

	for _, line := range lines {
		if numberedRe.MatchString(line) {
			flushText()
			if list == nil || !list.Ordered {
				flushList()
				list = &Block{Kind: List, Ordered: true}
			}
			list.Items = append(list.Items, f.numberedItems(line)...)
			continue
		}

		if m := bulletRe.FindStringSubmatch(line); m != nil {
			flushText()
			if list == nil || list.Ordered {
				flushList()
				list = &Block{Kind: List}
			}
			list.Items = append(list.Items, cleanItem(m[1]))
			continue
		}

		if list != nil && startsLower(line) {
			last := len(list.Items) - 1
			list.Items[last] = cleanItem(list.Items[last] + " " + line)
			continue
		}

		flushList()
		text = append(text, line)
	}

	flushText()
	flushList()

	return out
}

// prose splits running text into paragraphs, lifting an inline
// "...: 1. A; 2. B" enumeration into a list.
func (f *Formatter) prose(text string) []Block {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	loc := inlineStartRe.FindStringIndex(text)
	if loc == nil {
		return f.sentenceBlocks(f.sentences(text))
	}

	intro := strings.TrimSpace(text[:loc[0]+1])
	items, trailing := f.inlineItems(text[loc[0]+1:])
	if len(items) < 2 {
		return f.sentenceBlocks(f.sentences(text))
	}

	var out []Block
	if intro != ":" {
		out = append(out, f.sentenceBlocks(f.sentences(intro))...)
	}
	out = append(out, Block{Kind: List, Items: items, Ordered: true})
	out = append(out, f.prose(trailing)...)

	return out
}

// sentenceBlocks groups sentences into paragraphs. A run of sentences
// opening with "N." or "N)" becomes an ordered list.
func (f *Formatter) sentenceBlocks(sentences []string) []Block {
	var (
		out   []Block
		plain []string
		items []string
	)

	flushPlain := func() {
		if len(plain) > 0 {
			out = append(out, f.paragraphs(plain)...)
			plain = nil
		}
	}
	flushItems := func() {
		if len(items) > 0 {
			out = append(out, Block{Kind: List, Items: items, Ordered: true})
			items = nil
		}
	}

	for _, s := range sentences {
		if m := numberedRe.FindStringSubmatch(s); m != nil {
			flushPlain()
			if item := cleanItem(m[2]); item != "" {
				items = append(items, item)
			}
			continue
		}
		flushItems()
		plain = append(plain, s)
	}
	flushPlain()
	flushItems()

	return out
}

// numberedItems splits a numbered line such as "1. A. 2. B." into one item
// per marker. Unnumbered sentences stay with the item before them.
func (f *Formatter) numberedItems(line string) []string {
	var raw []string
	for _, s := range f.sentences(line) {
		if m := numberedRe.FindStringSubmatch(s); m != nil {
			raw = append(raw, m[2])
			continue
		}
		if len(raw) == 0 {
			raw = append(raw, s)
			continue
		}
		raw[len(raw)-1] += " " + s
	}

	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = cleanItem(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (f *Formatter) inlineItems(rest string) ([]string, string) {
	matches := inlineMarkRe.FindAllStringSubmatchIndex(rest, -1)

	type mark struct{ start, end int }
	var marks []mark
	expected := 1
	for _, m := range matches {
		if rest[m[2]:m[3]] != strconv.Itoa(expected) {
			continue
		}
		marks = append(marks, mark{start: m[0], end: m[1]})
		expected++
	}

	if len(marks) == 0 {
		return nil, rest
	}

	items := make([]string, 0, len(marks))
	for i, mk := range marks {
		if i+1 < len(marks) {
			items = append(items, cleanItem(rest[mk.end:marks[i+1].start]))
		}
	}

	// The last item runs to the end of its first sentence.
	tail := f.sentences(rest[marks[len(marks)-1].end:])
	trailing := ""
	if len(tail) > 0 {
		items = append(items, cleanItem(tail[0]))
		trailing = strings.Join(tail[1:], " ")
	}

	filtered := items[:0]
	for _, item := range items {
		if item != "" {
			filtered = append(filtered, item)
		}
	}

	return filtered, trailing
}

func (f *Formatter) sentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))

	var out []string
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		end := i + 1
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}
		if end >= len(runes) || !unicode.IsSpace(runes[end]) {
			continue
		}

		next := end
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}
		if next >= len(runes) || !opensSentence(runes[next]) {
			continue
		}
		if r == '.' && keepsPeriod(runes[start:i]) {
			continue
		}

		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = next
		i = next - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}

	return out
}

// paragraphs groups sentences, flushing before SoftLimit would be exceeded
// or once MaxSentences are collected.
func (f *Formatter) paragraphs(sentences []string) []Block {
	var (
		out     []Block
		current []string
		length  int
	)

	flush := func() {
		if len(current) > 0 {
			out = append(out, Block{Kind: Paragraph, Text: strings.Join(current, " ")})
			current = nil
			length = 0
		}
	}

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if len(current) > 0 && length+1+n > f.opts.SoftLimit {
			flush()
		}

		if len(current) > 0 {
			length++
		}
		current = append(current, s)
		length += n

		if len(current) >= f.opts.MaxSentences {
			flush()
		}
	}
	flush()

	return out
}

func fallback(text string) Document {
	var blocks []Block
	for _, chunk := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			blocks = append(blocks, Block{Kind: Paragraph, Text: strings.Join(strings.Fields(chunk), " ")})
		}
	}
	if len(blocks) == 0 {
		return Document{}
	}
	return Document{Sections: []Section{{Blocks: blocks}}}
}

func nonEmptyLines(chunk string) []string {
	var lines []string
	for _, line := range strings.Split(chunk, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func keepsPeriod(prefix []rune) bool {
	word := string(prefix)
	if idx := strings.LastIndexFunc(word, unicode.IsSpace); idx >= 0 {
		word = word[idx+1:]
	}
	word = strings.TrimLeft(word, "(\"'“")
	if word == "" {
		return false
	}

	if strings.IndexFunc(word, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return true
	}
	if utf8.RuneCountInString(word) == 1 {
		return true
	}

	_, ok := abbreviations[strings.ToLower(word)]
	return ok
}

func opensSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '“' || r == '\''
}

func isCloser(r rune) bool {
	return r == '"' || r == '”' || r == '\'' || r == ')'
}

func startsLower(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	return unicode.IsLower(r)
}

func cleanItem(item string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(item), ";,."))
}
