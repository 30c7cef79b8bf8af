// Package kfmt provides a minimal, allocation-conscious replacement for
// fmt.Printf that can be used before the loader's own heap (kernel/mm/heap)
// is available. It understands the small subset of formatting verbs the
// rest of this module actually needs.
package kfmt

import (
	"bytes"
	"io"
)

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	padding         = byte(' ')

	// earlyBuf captures output produced before a real sink is attached via
	// SetOutputSink.
	earlyBuf ringBuffer

	// outputSink is where Printf sends formatted output. When nil, output
	// goes to earlyBuf instead.
	outputSink io.Writer
)

// SetOutputSink directs future Printf output to w and flushes any output
// accumulated in the early ring buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyBuf)
	}
}

// sink returns the writer that formatted output should currently be sent to.
func sink() io.Writer {
	if outputSink != nil {
		return outputSink
	}
	return &earlyBuf
}

// Printf formats according to a format specifier and writes to the active
// output sink (see SetOutputSink). Printf supports the following verbs:
//
//	%s  the uninterpreted bytes of a string or []byte
//	%c  a single byte
//	%t  "true" or "false"
//	%o  integer, base 8
//	%d  integer, base 10
//	%x  integer, base 16, lower-case
//
// A decimal width may precede any verb; strings, booleans and base-10
// integers are left-padded with spaces, base-8/16 integers are left-padded
// with zeroes. %c ignores the width.
func Printf(format string, args ...interface{}) {
	Fprintf(sink(), format, args...)
}

// Sprintf behaves like Printf but returns the formatted result instead of
// writing it to the active sink. It is only used on the fatal-error path
// where an extra allocation is acceptable.
func Sprintf(format string, args ...interface{}) string {
	var buf bytes.Buffer
	Fprintf(&buf, format, args...)
	return buf.String()
}

// Fprintf behaves like Printf but writes to an explicit writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	writeBytes := func(b []byte) {
		w.Write(b)
	}

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		if blockStart < blockEnd {
			writeBytes([]byte(format[blockStart:blockEnd]))
		}

		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				writeBytes([]byte{'%'})
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't' || nextCh == 'c':
				if nextArgIndex >= len(args) {
					writeBytes(errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(w, args[nextArgIndex], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex], padLen)
				case 'c':
					fmtChar(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			default:
				writeBytes(errNoVerb)
				break parseFmt
			}
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart < blockEnd && blockEnd <= fmtLen {
		writeBytes([]byte(format[blockStart:blockEnd]))
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		writeBytes(errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}, padLen int) {
	b, ok := v.(bool)
	if !ok {
		w.Write(errWrongArgType)
		return
	}
	s := falseValue
	if b {
		s = trueValue
	}
	fmtRepeat(w, padding, padLen-len(s))
	w.Write(s)
}

func fmtChar(w io.Writer, v interface{}) {
	switch c := v.(type) {
	case byte:
		w.Write([]byte{c})
	case rune:
		w.Write([]byte{byte(c)})
	default:
		w.Write(errWrongArgType)
	}
}

func fmtString(w io.Writer, v interface{}, padLen int) {
	var s []byte
	switch casted := v.(type) {
	case string:
		s = []byte(casted)
	case []byte:
		s = casted
	default:
		w.Write(errWrongArgType)
		return
	}

	fmtRepeat(w, padding, padLen-len(s))
	w.Write(s)
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		w.Write([]byte{ch})
	}
}

// fmtInt prints v (any built-in integer type) in the requested base,
// left-padded to padLen.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval        int64
		uval        uint64
		divider     uint64
		buf         [20]byte
		padCh       byte
		pos         int
		isNeg       bool
		supported   = true
		signMatched bool
	)

	switch base {
	case 8:
		divider, padCh = 8, '0'
	case 10:
		divider, padCh = 10, ' '
	case 16:
		divider, padCh = 16, '0'
	}

	switch casted := v.(type) {
	case uint8:
		uval = uint64(casted)
	case uint16:
		uval = uint64(casted)
	case uint32:
		uval = uint64(casted)
	case uint64:
		uval = casted
	case uint:
		uval = uint64(casted)
	case uintptr:
		uval = uint64(casted)
	case int8:
		sval, signMatched = int64(casted), true
	case int16:
		sval, signMatched = int64(casted), true
	case int32:
		sval, signMatched = int64(casted), true
	case int64:
		sval, signMatched = casted, true
	case int:
		sval, signMatched = int64(casted), true
	default:
		supported = false
	}

	if !supported {
		w.Write(errWrongArgType)
		return
	}

	if signMatched {
		if base == 10 {
			if sval < 0 {
				isNeg = true
				uval = uint64(-sval)
			} else {
				uval = uint64(sval)
			}
		} else {
			uval = uint64(sval)
		}
	}

	pos = len(buf)
	if uval == 0 {
		pos--
		buf[pos] = '0'
	} else {
		for uval > 0 {
			pos--
			rem := uval % divider
			if rem < 10 {
				buf[pos] = '0' + byte(rem)
			} else {
				buf[pos] = 'a' + byte(rem-10)
			}
			uval /= divider
		}
	}

	digits := len(buf) - pos
	signLen := 0
	if isNeg {
		signLen = 1
	}

	fmtRepeat(w, padCh, padLen-digits-signLen)
	if isNeg {
		w.Write([]byte{'-'})
	}
	w.Write(buf[pos:])
}
