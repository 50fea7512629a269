package protocol

import (
	"strconv"
	"strings"
)

// EncodeReport builds the payload of a report frame: the correlating id of
// the task-dispatch that started the reporting worker, the separator, and the
// report text.
func EncodeReport(correlation uint32, text string) []byte {
	return []byte(strconv.FormatUint(uint64(correlation), 10) + ReportSeparator + text)
}

// DecodeReport splits a report payload into its correlating id and text.
func DecodeReport(data []byte) (uint32, string, error) {
	head, text, found := strings.Cut(string(data), ReportSeparator)
	if !found {
		return 0, "", malformed("report payload has no separator")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(head), 10, 32)
	if err != nil {
		return 0, "", malformed("report correlating id %q is not a sequence id", head)
	}
	return uint32(id), text, nil
}
