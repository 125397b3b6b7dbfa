package config

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// SplitQuotedFields is like strings.Fields but keeps whitespace that appears
// inside single or double quotes. A backslash inside quotes escapes the next
// character, so `'it\'s'` yields "it's".
//
// It is used to turn the configured symbol tool command line (for example
// `readelf -W -s`) into an argv.
func SplitQuotedFields(in string) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf bytes.Buffer
	var quote rune
	started := false

	flush := func() {
		if started {
			r = append(r, buf.String())
		}
		buf.Reset()
		started = false
	}

	for _, ch := range in {
		switch state {
		case inSpace, inField:
			switch {
			case ch == '\'' || ch == '"':
				quote = ch
				started = true
				state = inQuote
			case unicode.IsSpace(ch):
				flush()
				state = inSpace
			default:
				buf.WriteRune(ch)
				started = true
				state = inField
			}

		case inQuote:
			if ch == quote {
				state = inField
			} else if ch == '\\' {
				state = inQuoteEscaped
			} else {
				buf.WriteRune(ch)
			}

		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}
	flush()

	return r
}

// ConfigureList writes every field of cfg that carries a tag named cfgTag
// to w, one "name<TAB>value" line per field, in declaration order.
func ConfigureList(w io.Writer, cfg interface{}, cfgTag string) {
	v := reflect.Indirect(reflect.ValueOf(cfg))
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := tagName(t.Field(i).Tag.Get(cfgTag))
		if name == "" || name == "-" {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", name, formatField(v.Field(i)))
	}
}

// ConfigureListByName returns the "name<TAB>value" line for the field of cfg
// whose cfgTag name is cfgname, or the empty string if there is none.
func ConfigureListByName(cfg interface{}, cfgname, cfgTag string) string {
	if cfgname == "" {
		return ""
	}
	v := reflect.Indirect(reflect.ValueOf(cfg))
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tagName(t.Field(i).Tag.Get(cfgTag)) == cfgname {
			return fmt.Sprintf("%s\t%s\n", cfgname, formatField(v.Field(i)))
		}
	}
	return ""
}

func tagName(tag string) string {
	if i := strings.Index(tag, ","); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

func formatField(f reflect.Value) string {
	switch f.Kind() {
	case reflect.Ptr:
		if f.IsNil() {
			return "<not defined>"
		}
		return formatField(f.Elem())
	case reflect.Map:
		if f.Len() == 0 {
			return "<not defined>"
		}
		keys := f.MapKeys()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%v=%v", k, f.MapIndex(k)))
		}
		sort.Strings(parts)
		return strings.Join(parts, " ")
	}
	return fmt.Sprintf("%v", f)
}
