package tool

import "strings"

// RiskLevel represents the security risk level of a tool.
type RiskLevel string

const (
	// RiskLevelLow indicates read-only, informational operations.
	RiskLevelLow RiskLevel = "LOW"

	// RiskLevelMedium indicates read operations with potential sensitivity.
	RiskLevelMedium RiskLevel = "MEDIUM"

	// RiskLevelHigh indicates write operations or network access.
	RiskLevelHigh RiskLevel = "HIGH"

	// RiskLevelCritical indicates destructive operations or system commands.
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// criticalPatterns contains patterns indicating destructive operations or system commands.
var criticalPatterns = []string{
	"delete", "remove", "drop", "destroy", "execute", "exec",
	"shell", "command", "admin", "sudo", "root", "truncate",
}

// highPatterns contains patterns indicating write operations or network access.
var highPatterns = []string{
	"write", "create", "update", "modify", "send", "post",
	"upload", "deploy", "install", "connect", "put",
}

// mediumPatterns contains patterns indicating read operations with potential sensitivity.
var mediumPatterns = []string{
	"fetch", "download", "export", "query", "search", "get", "grep",
}

// Classify determines the risk level of a tool from its name and declared
// side effects. Classification is case-insensitive substring matching on the
// name, with side effects raising the floor: a shell tool is never below
// CRITICAL and a network or filesystem tool never below MEDIUM.
func Classify(t Tool) RiskLevel {
	level := classifyName(t.Name())
	for _, se := range t.SideEffects() {
		switch se {
		case SideEffectShell:
			return RiskLevelCritical
		case SideEffectNetwork, SideEffectFilesystem:
			if level == RiskLevelLow {
				level = RiskLevelMedium
			}
		}
	}
	return level
}

func classifyName(name string) RiskLevel {
	lower := strings.ToLower(name)
	for _, pattern := range criticalPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelCritical
		}
	}
	for _, pattern := range highPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelHigh
		}
	}
	for _, pattern := range mediumPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelMedium
		}
	}
	return RiskLevelLow
}
