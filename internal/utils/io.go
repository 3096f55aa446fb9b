package utils

import (
	"bufio"
	"strings"
)

// ReadCommand reads one line and splits it into a lowercased command and its
// arguments. Blank lines return an empty command.
func ReadCommand(reader *bufio.Reader) (string, []string, error) {
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", nil, err
	}

	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 {
		return "", nil, nil
	}

	return strings.ToLower(fields[0]), fields[1:], nil
}
