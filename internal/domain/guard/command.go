package guard

import (
	"regexp"
	"strings"

	"github.com/agenticmail/toolgate/internal/domain/policy"
)

// defaultBlockedCommandPatterns match destructive or irreversible commands
// and common shell-injection idioms. They apply in blocklist mode in
// addition to any admin-configured patterns.
var defaultBlockedCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rf][a-zA-Z]*\s+/(\s|$|\*)`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/(sd|hd|nvme)`),
	regexp.MustCompile(`:\(\)\s*{\s*:\|\:?&\s*}\s*;\s*:`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/(\s|$)`),
	regexp.MustCompile(`\b(curl|wget)\b[^|;]*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile("`[^`]+`"),
	regexp.MustCompile(`\bshutdown\b|\breboot\b|\bhalt\b`),
}

// CommandSanitizer validates shell command lines against a sanitizer policy.
// It validates only; escaping arguments for subprocess execution is the
// caller's responsibility.
type CommandSanitizer struct{}

// NewCommandSanitizer creates a new CommandSanitizer.
func NewCommandSanitizer() *CommandSanitizer {
	return &CommandSanitizer{}
}

// Validate checks a command line against the sanitizer policy.
// Blocklist mode rejects lines matching any configured or built-in pattern.
// Allowlist mode rejects any line whose leading executable name is not
// explicitly allowed.
func (s *CommandSanitizer) Validate(commandLine string, pol policy.CommandSanitizerPolicy) error {
	if !pol.Enabled {
		return nil
	}
	trimmed := strings.TrimSpace(commandLine)
	if trimmed == "" {
		return &CommandBlockedError{Command: commandLine, Reason: "empty_command"}
	}

	mode := pol.Mode
	if mode == "" {
		mode = policy.ModeBlocklist
	}

	if mode == policy.ModeAllowlist {
		exe := leadingExecutable(trimmed)
		for _, allowed := range pol.AllowedCommands {
			if strings.TrimSpace(allowed) == exe {
				return nil
			}
		}
		return &CommandBlockedError{Command: commandLine, Reason: "executable_not_allowed"}
	}

	for _, pat := range pol.BlockedPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			// Fail closed on unparseable admin patterns.
			return &CommandBlockedError{Command: commandLine, Pattern: pat, Reason: "invalid_blocked_pattern"}
		}
		if re.MatchString(trimmed) {
			return &CommandBlockedError{Command: commandLine, Pattern: pat, Reason: "blocked_pattern"}
		}
	}
	for _, re := range defaultBlockedCommandPatterns {
		if re.MatchString(trimmed) {
			return &CommandBlockedError{Command: commandLine, Pattern: re.String(), Reason: "default_blocked_pattern"}
		}
	}
	return nil
}

// leadingExecutable returns the base name of the first token of a command
// line, so "/usr/bin/ls -la" and "ls -la" both yield "ls".
func leadingExecutable(commandLine string) string {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return ""
	}
	exe := fields[0]
	if i := strings.LastIndexByte(exe, '/'); i >= 0 {
		exe = exe[i+1:]
	}
	return exe
}
