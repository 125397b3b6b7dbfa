package logflags

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var symbols = false
var patch = false
var scan = false
var materialize = false
var pipeline = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatter()
	logger.Logger.Level = level
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = colorable.NewColorableStderr()
	}
	return &logrusLogger{logger}
}

// makeFlaggableLogger returns a logger that emits debug output when flag
// is set. Warnings and errors are always emitted.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.WarnLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

func textFormatter() logrus.Formatter {
	if logOut != nil {
		return &logrus.TextFormatter{DisableColors: true, DisableTimestamp: true}
	}
	return &logrus.TextFormatter{
		ForceColors:      isatty.IsTerminal(os.Stderr.Fd()),
		DisableTimestamp: true,
	}
}

// Symbols returns true if the symbol table loader should log.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for the symbol table loader.
func SymbolsLogger() Logger {
	return makeFlaggableLogger(symbols, Fields{"layer": "symbols"})
}

// Patch returns true if the patch engine should log.
func Patch() bool {
	return patch
}

// PatchLogger returns a logger for the patch engine.
func PatchLogger() Logger {
	return makeFlaggableLogger(patch, Fields{"layer": "patch"})
}

// Scan returns true if the string scanner should log.
func Scan() bool {
	return scan
}

func ScanLogger() Logger {
	return makeFlaggableLogger(scan, Fields{"layer": "scan"})
}

// Materialize returns true if the output writer should log.
func Materialize() bool {
	return materialize
}

func MaterializeLogger() Logger {
	return makeFlaggableLogger(materialize, Fields{"layer": "materialize"})
}

// Pipeline returns true if the pipeline driver should log its state
// transitions.
func Pipeline() bool {
	return pipeline
}

func PipelineLogger() Logger {
	return makeFlaggableLogger(pipeline, Fields{"layer": "pipeline"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "patch-tool-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return errors.Wrap(err, "could not create log file")
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "pipeline"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "symbols":
			symbols = true
		case "patch":
			patch = true
		case "scan":
			scan = true
		case "materialize":
			materialize = true
		case "pipeline":
			pipeline = true
		case "all":
			symbols, patch, scan, materialize, pipeline = true, true, true, true, true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'patch-tool help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
