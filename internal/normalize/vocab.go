package normalize

// Fillers are interjections and hedges removed wherever they occur. Each
// entry is a pattern so elongation marks (ー) and trailing と belong to the
// match.
var Fillers = [...]string{
	`えー[と]?`,
	`あの[ー]?`,
	`その[ー]?`,
	`えっと`,
	`まあ`,
	`なんか`,
	`っていうか`,
}

// TrailingConnectives are conjunctions left dangling before a punctuation
// mark. The particle and the mark are removed together.
var TrailingConnectives = [...]string{
	`で`,
	`が`,
	`けど`,
	`から`,
}

// PoliteAuxiliaries are sentence-final politeness markers that only get
// removed when punctuation sits on both sides of them.
var PoliteAuxiliaries = [...]string{
	`です`,
	`ます`,
	`でした`,
	`ました`,
}

const (
	// punctClass matches the two marks the rules collapse and strip.
	punctClass = `[、。]`
	// kanaClass matches a single hiragana or katakana character.
	kanaClass = `[ぁ-んァ-ン]`
)

// terminalMarks are the runes a non-empty result may end with.
var terminalMarks = map[rune]bool{
	'。': true,
	'！': true,
	'？': true,
}
