// Package protocol classifies the lines a flow sensor streams back after it
// receives a reference value.
//
// The device protocol is line oriented and loosely typed. Every line is
// either a bare sample, a "label = value" statistic, a terminator, or noise.
// Classify never fails: malformed numbers degrade a line to Unclassified or to
// a statistic without a value.
package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the semantic class of one response line.
type Kind int

const (
	KindEmpty Kind = iota
	KindSample
	KindStat
	KindTerminator
	KindUnclassified
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindSample:
		return "sample"
	case KindStat:
		return "stat"
	case KindTerminator:
		return "terminator"
	case KindUnclassified:
		return "unclassified"
	}
	return "unknown"
}

// Stat names a device-reported figure.
type Stat string

const (
	StatNone           Stat = ""
	StatFlowAverage    Stat = "flowAverage"
	StatVoltageAverage Stat = "voltageAverage"
	StatPrecision      Stat = "precision"
	StatAccuracy       Stat = "accuracy"
	StatOffset         Stat = "offset"
)

// Token is the classification of one line.
type Token struct {
	Kind Kind
	// Stat is set for KindStat and KindTerminator.
	Stat Stat
	// Value is meaningful only when HasValue is true.
	Value    float64
	HasValue bool
	// Line is the trimmed input.
	Line string
}

// Terminates reports whether the token ends a measurement exchange.
func (t Token) Terminates() bool {
	return t.Kind == KindTerminator
}

type label struct {
	prefix     string
	stat       Stat
	terminator bool
}

// Matched by prefix against the lower-cased line, in order.
var labels = []label{
	{prefix: "promedio flujo", stat: StatFlowAverage},
	{prefix: "promedio voltaje", stat: StatVoltageAverage},
	{prefix: "precisión", stat: StatPrecision},
	{prefix: "prec", stat: StatPrecision},
	{prefix: "offset calculado", stat: StatOffset, terminator: true},
	{prefix: "exactitud", stat: StatAccuracy, terminator: true},
}

var (
	samplePattern  = regexp.MustCompile(`^(?:\d+\.?\d*|\.\d+)$`)
	decimalPattern = regexp.MustCompile(`-?(?:\d+\.?\d*|\.\d+)`)
)

// Classify returns the classification of line. It is pure and total.
func Classify(line string) Token {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Token{Kind: KindEmpty}
	}

	if samplePattern.MatchString(trimmed) {
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return Token{Kind: KindSample, Value: v, HasValue: true, Line: trimmed}
		}
		return Token{Kind: KindUnclassified, Line: trimmed}
	}

	lower := strings.ToLower(trimmed)
	for _, l := range labels {
		if !strings.HasPrefix(lower, l.prefix) {
			continue
		}
		tok := Token{Kind: KindStat, Stat: l.stat, Line: trimmed}
		if l.terminator {
			tok.Kind = KindTerminator
		}
		tok.Value, tok.HasValue = valueAfterEquals(trimmed)
		return tok
	}

	return Token{Kind: KindUnclassified, Line: trimmed}
}

// valueAfterEquals scans left to right for the first decimal token after the
// first '='. Units or other trailing text are ignored.
func valueAfterEquals(line string) (float64, bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return 0, false
	}
	m := decimalPattern.FindString(line[idx+1:])
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatReference renders a reference value the way the device expects it on
// the wire: a plain decimal without exponent.
func FormatReference(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
