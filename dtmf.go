// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

// DTMF tone codes follow RFC 4733 event numbering: 0-9 digits, 10 '*', 11 '#', 12-15 'A'-'D'
const dtmfDigits = "0123456789*#ABCD"

// ToneDigit converts tone code to keypad char
func ToneDigit(tone uint16) (rune, bool) {
	if int(tone) >= len(dtmfDigits) {
		return 0, false
	}
	return rune(dtmfDigits[tone]), true
}

// DigitTone converts keypad char to tone code. Lower case a-d are accepted.
func DigitTone(r rune) (uint16, bool) {
	if r >= 'a' && r <= 'd' {
		r -= 'a' - 'A'
	}
	for i, d := range dtmfDigits {
		if d == r {
			return uint16(i), true
		}
	}
	return 0, false
}

// ValidDtmf reports whether every char of tones is keypad char
func ValidDtmf(tones string) bool {
	for _, r := range tones {
		if _, ok := DigitTone(r); !ok {
			return false
		}
	}
	return true
}
