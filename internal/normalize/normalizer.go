// Package normalize removes fillers, stutters and redundant punctuation from
// spoken Japanese transcript text. The transform is an ordered list of
// pattern/replacement rules followed by a fixed finishing sequence; reordering
// the rules changes the output, so the order is part of the contract.
package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// Kind groups rules by the disfluency they target.
type Kind string

const (
	KindFiller       Kind = "filler"
	KindRepeatPunct  Kind = "repeat_punct"
	KindStutter      Kind = "stutter"
	KindConnective   Kind = "connective"
	KindPolite       Kind = "polite"
	KindWhitespace   Kind = "whitespace"
	KindLeadingPunct Kind = "leading_punct"
	KindLeadingKana  Kind = "leading_kana"
	KindFinish       Kind = "finish"
)

// Rule is a single pattern/replacement step.
type Rule struct {
	Kind    Kind
	Pattern string
	Replace string

	re *regexp2.Regexp
}

// NewRule compiles pattern. The replacement may reference groups as $1.
func NewRule(kind Kind, pattern, replace string) (Rule, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: kind, Pattern: pattern, Replace: replace, re: re}, nil
}

func mustRule(kind Kind, pattern, replace string) Rule {
	r, err := NewRule(kind, pattern, replace)
	if err != nil {
		panic("normalize: bad rule " + pattern + ": " + err.Error())
	}
	return r
}

// Name identifies the rule in traces and diagnostics.
func (r Rule) Name() string {
	return string(r.Kind) + ":" + r.Pattern
}

// Apply runs the rule over the whole text. A matcher error leaves text as it
// was.
func (r Rule) Apply(text string) string {
	if r.re == nil || text == "" {
		return text
	}
	out, err := r.re.Replace(text, r.Replace, -1, -1)
	if err != nil {
		return text
	}
	return out
}

// DefaultRules returns the ordered rule list used by Normalize.
func DefaultRules() []Rule {
	var rules []Rule
	for _, f := range Fillers {
		rules = append(rules, mustRule(KindFiller, f, ""))
	}
	rules = append(rules,
		mustRule(KindRepeatPunct, `(`+punctClass+`)\1+`, "$1"),
		mustRule(KindStutter, `(`+kanaClass+`)\1{2,}`, ""),
	)
	for _, c := range TrailingConnectives {
		rules = append(rules, mustRule(KindConnective, c+punctClass, ""))
	}
	for _, p := range PoliteAuxiliaries {
		rules = append(rules, mustRule(KindPolite, punctClass+p+punctClass, ""))
	}
	rules = append(rules,
		mustRule(KindWhitespace, `\s+`, ""),
		mustRule(KindLeadingPunct, `^`+punctClass, ""),
		mustRule(KindLeadingKana, `^`+kanaClass+`{1,3}`+punctClass, ""),
	)
	return rules
}

// finishing steps a-d; e and f are applied in code.
func finishRules() []Rule {
	return []Rule{
		mustRule(KindFinish, punctClass+`+$`, "。"),
		mustRule(KindFinish, `^[、。\s]+`, ""),
		mustRule(KindFinish, punctClass+`+`, "。"),
		mustRule(KindFinish, `。\s*。`, "。"),
	}
}

// Pipeline applies rules in order, then the finishing sequence.
type Pipeline struct {
	rules  []Rule
	finish []Rule
}

// NewPipeline builds a pipeline from rules. With no rules the default list is
// used.
func NewPipeline(rules ...Rule) *Pipeline {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Pipeline{rules: rules, finish: finishRules()}
}

// Rules returns a copy of the pipeline's rule list.
func (p *Pipeline) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Normalize returns the cleaned text. It never fails: any input, including
// the empty string, yields a best-effort result.
func (p *Pipeline) Normalize(text string) string {
	out, _ := p.run(text, nil)
	return out
}

// Step records one rule application that changed the text.
type Step struct {
	Rule   string
	Before string
	After  string
}

// Trace normalizes text and reports every step that changed it.
func (p *Pipeline) Trace(text string) (string, []Step) {
	var steps []Step
	out, _ := p.run(text, func(name, before, after string) {
		steps = append(steps, Step{Rule: name, Before: before, After: after})
	})
	return out, steps
}

func (p *Pipeline) run(text string, observe func(name, before, after string)) (string, int) {
	changed := 0
	apply := func(r Rule) {
		next := r.Apply(text)
		if next != text {
			changed++
			if observe != nil {
				observe(r.Name(), text, next)
			}
		}
		text = next
	}
	for _, r := range p.rules {
		apply(r)
	}
	for _, r := range p.finish {
		apply(r)
	}

	if text != "" {
		last, _ := utf8.DecodeLastRuneInString(text)
		if !terminalMarks[last] {
			before := text
			text += "。"
			changed++
			if observe != nil {
				observe(string(KindFinish)+":terminal", before, text)
			}
		}
	}
	return strings.TrimSpace(text), changed
}

var defaultPipeline = NewPipeline()

// Normalize cleans text with the default rule order.
func Normalize(text string) string {
	return defaultPipeline.Normalize(text)
}

// Rules returns the default rule order.
func Rules() []Rule {
	return defaultPipeline.Rules()
}
