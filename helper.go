package dualdb

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern restricts table and column names that end up concatenated into SQL.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ValidateTableName rejects names that are not plain SQL identifiers.
func ValidateTableName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid identifier %q", ErrMalformedStatement, name)
	}
	return nil
}

// TruncateSQL collapses whitespace and cuts sql to at most max characters, for logging.
// Parameter values never pass through here.
func TruncateSQL(sql string, max int) string {
	s := strings.TrimSpace(whitespaceRun.ReplaceAllString(sql, " "))
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// Convert the .sql file into each individual sql commands
// Input is []string which are the content of the .sql file
// Output is []string of each sql commands.
// Statements are split on ';' so bodies that contain ';' (triggers) are not supported.
func ConvertSQLCommands(lines []string) []string {
	var commands []string
	var currentCommand strings.Builder

	for _, line := range lines {
		commentIndex := strings.Index(line, "--")
		if commentIndex != -1 {
			line = line[:commentIndex] // Remove comment part
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		currentCommand.WriteString(line)
		currentCommand.WriteString(" ")

		if strings.Contains(line, ";") {
			parts := strings.Split(currentCommand.String(), ";")
			for _, part := range parts[:len(parts)-1] {
				command := strings.TrimSpace(part)
				if command != "" {
					commands = append(commands, command)
				}
			}
			currentCommand.Reset()
			currentCommand.WriteString(parts[len(parts)-1])
		}
	}

	if command := strings.TrimSpace(currentCommand.String()); command != "" {
		commands = append(commands, command)
	}

	return commands
}
