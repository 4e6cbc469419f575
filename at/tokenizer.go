package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also
// recognizes the CASEND input prompt ("> ").
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match send prompt
	if bytes.HasPrefix(data, []byte(Prompt+" ")) {
		return len(Prompt) + 1, data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Lines splits raw modem text into its non-empty lines.
func Lines(text string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Split(Splitter)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case "OK", "ERROR":
		return TypeFinal
	case "SMS Ready":
		return TypeURC
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcDataInd),
		strings.HasPrefix(line, UrcNetworkName),
		strings.HasPrefix(line, UrcNetworkTime),
		strings.HasPrefix(line, UrcTimeZone),
		strings.HasPrefix(line, UrcDST):
		return TypeURC
	default:
		return TypeData
	}
}
