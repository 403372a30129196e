package v8

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/go-sourcemap/sourcemap"
	"rogchap.com/v8go"
)

// reStackEntry the stack entry regex, named and anonymous frames
var reStackEntry = regexp.MustCompile(`at[ ]+(?:(?P<Function>[^(]+)[ ]+\()?(?P<File>[^:()\s]+):(?P<Line>\d+):(?P<Column>\d+)\)?`)

var reLocation = regexp.MustCompile(`^(?P<File>[^:]+):(?P<Line>\d+):(?P<Column>\d+)$`)

// StackLogEntry stack log entry
type StackLogEntry struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// StackLogEntryList stack log entry list
type StackLogEntryList []*StackLogEntry

func (entry *StackLogEntry) String() string {
	if entry.Function == "" {
		return fmt.Sprintf("    at %s:%d:%d", entry.File, entry.Line, entry.Column)
	}
	return fmt.Sprintf("    at %s (%s:%d:%d)", entry.Function, entry.File, entry.Line, entry.Column)
}

// String the stack log entry list to string
func (list StackLogEntryList) String() string {
	output := make([]string, 0, len(list))
	for _, entry := range list {
		output = append(output, entry.String())
	}
	return strings.Join(output, "\n")
}

// StackTrace the source mapped stack of a guest error. Production mode keeps the message only.
func (rt *Runtime) StackTrace(script *Script, jsErr *v8go.JSError) string {
	if rt.option.Mode != "development" {
		return ""
	}

	entries := parseStackTrace(jsErr.StackTrace)
	if len(entries) == 0 {
		return jsErr.StackTrace
	}

	for _, entry := range entries {
		if entry.File != script.File {
			continue
		}
		entry.File, entry.Line, entry.Column = script.source(entry.Line, entry.Column)
	}
	return fmt.Sprintf("%s\n%s", color.RedString("%s", jsErr.Message), color.WhiteString("%s", entries.String()))
}

// location maps a v8 "file:line:column" location to the original source
func (rt *Runtime) location(script *Script, location string) string {
	match := reLocation.FindStringSubmatch(location)
	if match == nil {
		return location
	}
	line, _ := strconv.Atoi(match[2])
	column, _ := strconv.Atoi(match[3])
	file, line, column := script.source(line, column)
	return fmt.Sprintf("%s:%d:%d", file, line, column)
}

// source maps a position of the normalized code back to the original source.
// Scripts without a source map keep the position.
func (script *Script) source(line int, column int) (string, int, int) {
	if len(script.Map) == 0 {
		return script.File, line, column
	}

	smap, err := sourcemap.Parse(script.File+".map", script.Map)
	if err != nil {
		return script.File, line, column
	}

	// go-sourcemap columns are 0 based, v8 columns are 1 based
	file, _, srcLine, srcColumn, ok := smap.Source(line, column-1)
	if !ok {
		return script.File, line, column
	}
	if file == "" {
		file = script.File
	}
	return file, srcLine, srcColumn + 1
}

func parseStackTrace(trace string) StackLogEntryList {
	res := StackLogEntryList{}
	for _, line := range strings.Split(trace, "\n") {
		match := reStackEntry.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(match[3])
		column, _ := strconv.Atoi(match[4])
		res = append(res, &StackLogEntry{
			Function: strings.TrimSpace(match[1]),
			File:     match[2],
			Line:     lineNo,
			Column:   column,
		})
	}
	return res
}
