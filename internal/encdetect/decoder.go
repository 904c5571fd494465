// Package encdetect recovers Unicode text from raw bytes of unknown encoding.
//
// Uploaded survey files arrive as UTF-8, windows-1252, ISO-8859-1 or
// windows-1256 more or less at random, so decoding is a trial over an ordered
// candidate list with a quality score per attempt. Decode never fails: when
// every candidate scores badly it falls back to a static windows-1252 table
// and, as a last resort, to lossy UTF-8.
package encdetect

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Quality thresholds for accepting a decoded candidate.
const (
	maxReplacementRatio = 0.01
	maxQuestionRatio    = 0.10
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DefaultCandidates is the trial order used when the deployment does not
// override it: canonical Unicode, the legacy Western single-byte encoding,
// its near-equivalent, then the Arabic codepage.
var DefaultCandidates = []string{"utf-8", "windows-1252", "iso-8859-1", "windows-1256"}

var charmaps = map[string]*charmap.Charmap{
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1256": charmap.Windows1256,
	"windows-1250": charmap.Windows1250,
	"ibm-850":      charmap.CodePage850,
}

// DecoderFor returns the decoder for a candidate name, or nil for UTF-8
// (and for unknown names, which decode as UTF-8).
func DecoderFor(name string) *encoding.Decoder {
	if cm, ok := charmaps[strings.ToLower(name)]; ok {
		return cm.NewDecoder()
	}
	return nil
}

// Decode tries each candidate encoding in order and returns the best-effort
// text together with the name of the encoding that produced it. A leading
// byte-order mark is stripped from the result.
func Decode(raw []byte, candidates []string) (string, string) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	candidates = reorderByDetection(raw, candidates)

	var passed string
	var passedName string

	for _, name := range candidates {
		text, ok := decodeAs(raw, name)
		if !ok {
			continue
		}
		repl, quest, expected := score(text)
		if repl >= maxReplacementRatio || quest >= maxQuestionRatio {
			continue
		}
		if expected {
			return stripBOM(text), name
		}
		if passedName == "" {
			passed, passedName = text, name
		}
	}
	if passedName != "" {
		return stripBOM(passed), passedName
	}

	log.Warn().Msg("No candidate encoding met quality thresholds, using windows-1252 fallback table")
	if text := DecodeWindows1252(raw); text != "" {
		return stripBOM(text), "windows-1252-fallback"
	}

	return stripBOM(string(raw)), "utf-8"
}

// reorderByDetection promotes the chardet best guess right behind the
// canonical Unicode candidate when it names one of the configured encodings.
func reorderByDetection(raw []byte, candidates []string) []string {
	detector := chardet.NewTextDetector()
	best, err := detector.DetectBest(raw)
	if err != nil || best == nil {
		return candidates
	}

	guess := strings.ToLower(best.Charset)
	for i, name := range candidates {
		if i == 0 || !strings.EqualFold(name, guess) {
			continue
		}
		log.Debug().Str("charset", best.Charset).Int("confidence", best.Confidence).
			Msg("Charset detector promoted candidate")

		reordered := make([]string, 0, len(candidates))
		reordered = append(reordered, candidates[0], name)
		for j, other := range candidates[1:] {
			if j+1 != i {
				reordered = append(reordered, other)
			}
		}
		return reordered
	}
	return candidates
}

func decodeAs(raw []byte, name string) (string, bool) {
	dec := DecoderFor(name)
	if dec == nil {
		return string(raw), true
	}
	text, err := dec.String(string(raw))
	if err != nil {
		return "", false
	}
	return text, true
}

// score rates decoded text by replacement-marker ratio, literal question-mark
// ratio and the presence of accented-Latin or Arabic-range characters.
func score(text string) (replRatio, questRatio float64, expected bool) {
	var total, repl, quest int
	for _, r := range text {
		total++
		switch {
		case r == '�':
			repl++
		case r == '?':
			quest++
		case (r >= 0x00C0 && r <= 0x017F) || (r >= 0x0600 && r <= 0x06FF):
			expected = true
		}
	}
	if total == 0 {
		return 0, 0, false
	}
	return float64(repl) / float64(total), float64(quest) / float64(total), expected
}

func stripBOM(text string) string {
	return strings.TrimPrefix(text, "\uFEFF")
}
