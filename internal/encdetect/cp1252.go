package encdetect

// cp1252High maps the 0x80-0x9F block of windows-1252 to Unicode. The five
// unassigned bytes keep their C1 control value, matching the Windows API
// best-fit behavior. All other bytes are identical to their Unicode
// codepoint.
var cp1252High = [32]rune{
	0x20AC, 0x0081, 0x201A, 0x0192, 0x201E, 0x2026, 0x2020, 0x2021,
	0x02C6, 0x2030, 0x0160, 0x2039, 0x0152, 0x008D, 0x017D, 0x008F,
	0x0090, 0x2018, 0x2019, 0x201C, 0x201D, 0x2022, 0x2013, 0x2014,
	0x02DC, 0x2122, 0x0161, 0x203A, 0x0153, 0x009D, 0x017E, 0x0178,
}

// DecodeWindows1252 is the hand-rolled single-byte fallback used when no
// candidate encoding meets the quality thresholds, and as the byte-recovery
// path for attribute text whose declared codepage fails to decode.
func DecodeWindows1252(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		if b >= 0x80 && b <= 0x9F {
			runes[i] = cp1252High[b-0x80]
		} else {
			runes[i] = rune(b)
		}
	}
	return string(runes)
}
