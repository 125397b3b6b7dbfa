package symbols

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/logflags"
)

// Format is the text layout of a symbol tool's output.
type Format uint8

const (
	// FormatReadelf is the output of `readelf -s`:
	//
	//	Num:    Value          Size Type    Bind   Vis      Ndx Name
	//	 12: 0000000000001234    24 FUNC    GLOBAL DEFAULT   12 name@@VER
	FormatReadelf Format = iota
	// FormatNm is the output of `nm`: "address type name".
	FormatNm
)

// Column positions of a readelf symbol record.
const (
	readelfNum = iota
	readelfValue
	readelfSize
	readelfType
	readelfBind
	readelfVis
	readelfNdx
	readelfName
	readelfColumns
)

// Parse reads symbol records in format f from r. Lines that are not symbol
// records are ignored; records that cannot be parsed are skipped with a
// warning. The number of skipped records is returned.
func Parse(r io.Reader, f Format, log logflags.Logger) (*Table, int, error) {
	t := NewTable()
	skipped := 0
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for s.Scan() {
		lineno++
		var (
			e   Entry
			ok  bool
			err error
		)
		switch f {
		case FormatNm:
			e, ok, err = parseNmLine(s.Text())
		default:
			e, ok, err = parseReadelfLine(s.Text())
		}
		if err != nil {
			log.Warnf("line %d: %v", lineno, err)
			skipped++
			continue
		}
		if ok {
			t.add(e, log)
		}
	}
	return t, skipped, s.Err()
}

// parseReadelfLine returns ok=false for lines that are not function or
// object records (headers, section and file symbols, undefined imports).
func parseReadelfLine(line string) (Entry, bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 || !isRecordNumber(parts[readelfNum]) {
		return Entry{}, false, nil
	}
	if len(parts) <= readelfType {
		return Entry{}, false, errors.Wrapf(ErrMalformedRecord, "%d columns in %q", len(parts), line)
	}
	var kind Kind
	switch parts[readelfType] {
	case "FUNC", "IFUNC":
		kind = Function
	case "OBJECT", "TLS":
		kind = Object
	default:
		return Entry{}, false, nil
	}
	if len(parts) < readelfColumns {
		return Entry{}, false, errors.Wrapf(ErrMalformedRecord, "%d columns in %q", len(parts), line)
	}
	if parts[readelfNdx] == "UND" {
		return Entry{}, false, nil
	}
	value, err := strconv.ParseUint(parts[readelfValue], 16, 64)
	if err != nil {
		return Entry{}, false, errors.Wrapf(ErrMalformedRecord, "bad value %q", parts[readelfValue])
	}
	// readelf prints large sizes in hex with a 0x prefix.
	size, _ := strconv.ParseUint(parts[readelfSize], 0, 64)
	return Entry{
		Name:    stripVersion(parts[readelfName]),
		Address: value,
		Value:   value,
		Size:    size,
		Kind:    kind,
	}, true, nil
}

func isRecordNumber(s string) bool {
	if len(s) < 2 || s[len(s)-1] != ':' {
		return false
	}
	_, err := strconv.ParseUint(s[:len(s)-1], 10, 64)
	return err == nil
}

// parseNmLine handles "address type name". Undefined symbols have no
// address column and are ignored.
func parseNmLine(line string) (Entry, bool, error) {
	parts := strings.Fields(line)
	switch len(parts) {
	case 0:
		return Entry{}, false, nil
	case 2:
		if parts[0] == "U" || parts[0] == "w" || parts[0] == "v" {
			return Entry{}, false, nil
		}
	case 3:
		value, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil {
			return Entry{}, false, errors.Wrapf(ErrMalformedRecord, "bad address %q", parts[0])
		}
		return Entry{
			Name:    stripVersion(parts[2]),
			Address: value,
			Value:   value,
			Kind:    nmKind(parts[1]),
		}, true, nil
	}
	if strings.HasSuffix(parts[0], ":") {
		// "file.o:" headers printed for archives
		return Entry{}, false, nil
	}
	return Entry{}, false, errors.Wrapf(ErrMalformedRecord, "%d columns in %q", len(parts), line)
}

func nmKind(t string) Kind {
	switch t {
	case "T", "t", "W", "i":
		return Function
	case "D", "d", "B", "b", "R", "r", "V", "G", "g", "S", "s":
		return Object
	}
	return Other
}

// stripVersion removes an ELF symbol version suffix (name@VER, name@@VER).
func stripVersion(name string) string {
	if i := strings.IndexByte(name, '@'); i > 0 {
		return name[:i]
	}
	return name
}
