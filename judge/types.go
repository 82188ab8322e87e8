package judge

import (
	"fmt"
	"strconv"
	"strings"
)

// Verdict is the normalized outcome of judging a submission or a test case.
// The low byte of a fail-class verdict is never zero.
type Verdict int

const (
	Unknown               Verdict = -1
	Accepted              Verdict = 0
	WrongAnswer           Verdict = 1
	TimeLimitExceeded     Verdict = 2
	RuntimeError          Verdict = 3
	MemoryLimitExceeded   Verdict = 4
	CompilationError      Verdict = 5
	IdlenessLimitExceeded Verdict = 6
	OtherPass             Verdict = 256
	OtherFail             Verdict = 257
)

var verdictNames = map[Verdict]string{
	Unknown:               "UNKNOWN",
	Accepted:              "ACCEPTED",
	WrongAnswer:           "WRONG_ANSWER",
	TimeLimitExceeded:     "TIME_LIMIT_EXCEEDED",
	RuntimeError:          "RUNTIME_ERROR",
	MemoryLimitExceeded:   "MEMORY_LIMIT_EXCEEDED",
	CompilationError:      "COMPILATION_ERROR",
	IdlenessLimitExceeded: "IDLENESS_LIMIT_EXCEEDED",
	OtherPass:             "OTHER_PASS",
	OtherFail:             "OTHER_FAIL",
}

// ParseVerdict converts a verdict name (as produced by String) back to a
// Verdict. Unrecognized names yield Unknown.
func ParseVerdict(s string) Verdict {
	name := strings.ToUpper(strings.TrimSpace(s))
	for v, n := range verdictNames {
		if n == name {
			return v
		}
	}
	if name == "OK" {
		return Accepted
	}
	return Unknown
}

// Passed reports whether v belongs to the pass class.
func (v Verdict) Passed() bool {
	return int(v)&255 == 0
}

func (v Verdict) String() string {
	if n, ok := verdictNames[v]; ok {
		return n
	}
	return "VERDICT(" + strconv.Itoa(int(v)) + ")"
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(b []byte) error {
	*v = ParseVerdict(string(b))
	return nil
}

// Score returns the normalized 0-or-100 score for a verdict.
func (v Verdict) Score() int {
	if v.Passed() {
		return 100
	}
	return 0
}

// NormalizeScore maps a backend-native score onto the 0-100 scale: a passed
// verdict is always 100 and any other verdict stays below 100.
func NormalizeScore(native int, v Verdict) int {
	if v.Passed() {
		return 100
	}
	return min(max(native, 0), 99)
}

// ScoreCases computes the two-tier score of a case list: 100 when every
// case passed, 0 otherwise. Cases without a verdict are ignored.
func ScoreCases(cases []Case) int {
	for _, c := range cases {
		if c.Verdict != nil && !c.Verdict.Passed() {
			return 0
		}
	}
	return 100
}

// Language is a programming language a submission can be written in.
type Language int

const (
	CPP Language = iota + 1
	Python3
)

func (l Language) String() string {
	switch l {
	case CPP:
		return "C++"
	case Python3:
		return "Python 3"
	default:
		return "Language(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLanguage accepts the common spellings of the supported languages.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c++", "cpp", "cxx", "g++":
		return CPP, nil
	case "python3", "python 3", "python", "py3", "py":
		return Python3, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
}

// LanguageCode looks up the site-specific code for lang in table. A missing
// entry is a usage error and is never silently replaced.
func LanguageCode[T any](backend string, table map[Language]T, lang Language) (T, error) {
	code, ok := table[lang]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s does not accept %s", ErrUnsupportedLanguage, backend, lang)
	}
	return code, nil
}

// TextType is the markup a problem statement is stored in.
type TextType int

const (
	Text TextType = iota + 1
	Markdown
	HTML
)

func (t TextType) String() string {
	switch t {
	case Text:
		return "text"
	case Markdown:
		return "markdown"
	case HTML:
		return "html"
	default:
		return "texttype(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseTextType parses "text", "markdown" or "html".
func ParseTextType(s string) (TextType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "txt":
		return Text, nil
	case "markdown", "md":
		return Markdown, nil
	case "html":
		return HTML, nil
	}
	return 0, fmt.Errorf("unknown text type %q", s)
}

// Sample is one example input/output pair from a problem statement.
type Sample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Problem is a problem statement fetched from a judge.
type Problem struct {
	ID       string
	Text     string
	TextType TextType
	Samples  []Sample
}

// Case is the result of a single test case.
type Case struct {
	Time    float64  `json:"time"`
	Memory  float64  `json:"memory"`
	Input   *string  `json:"input,omitempty"`
	Output  *string  `json:"output,omitempty"`
	Answer  *string  `json:"answer,omitempty"`
	Verdict *Verdict `json:"verdict,omitempty"`
	Message *string  `json:"message,omitempty"`
}

// Submission is a judged solution. It is only produced once judging has
// finished and is not modified afterwards.
type Submission struct {
	ID      string   `json:"id"`
	Verdict Verdict  `json:"verdict"`
	Problem string   `json:"problem"`
	Score   int      `json:"score"`
	Code    *string  `json:"code,omitempty"`
	Time    *float64 `json:"time,omitempty"`
	Memory  *float64 `json:"memory,omitempty"`
	Cases   []Case   `json:"cases"`
	Data    any      `json:"data,omitempty"`
}

// Passed reports whether the overall verdict is in the pass class.
func (s *Submission) Passed() bool {
	return s.Verdict.Passed()
}

// Ptr returns a pointer to v. Adapters use it to fill optional fields.
func Ptr[T any](v T) *T {
	return &v
}

// StrPtr is Ptr for strings, but maps the empty string to nil.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
