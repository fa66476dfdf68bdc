package supervisor

import (
	"fmt"
	"os/exec"
	"strings"
)

// LaunchSpec describes how to spawn one managed game server.
type LaunchSpec struct {
	Executable string `json:"executable"`
	WorkDir    string `json:"work_dir"`
	JavaPath   string `json:"java_path,omitempty"`
	MinMemory  string `json:"min_memory,omitempty"` // e.g. "1G"
	MaxMemory  string `json:"max_memory,omitempty"` // e.g. "4G"
	ExtraArgs  string `json:"extra_args,omitempty"`
	GameType   string `json:"game_type,omitempty"`
}

// BuildCommand constructs the *exec.Cmd for this launch spec. Jar executables
// are wrapped in a java invocation with the configured heap flags; anything
// else runs directly. Shell metacharacters in the executable fall back to
// /bin/sh -c so operator-provided start lines keep working.
func (l LaunchSpec) BuildCommand() (*exec.Cmd, error) {
	exe := strings.TrimSpace(l.Executable)
	if exe == "" {
		return nil, fmt.Errorf("launch spec has no executable")
	}
	extra := strings.Fields(l.ExtraArgs)

	if strings.HasSuffix(exe, ".jar") {
		java := l.JavaPath
		if java == "" {
			java = "java"
		}
		args := make([]string, 0, len(extra)+4)
		if l.MinMemory != "" {
			args = append(args, "-Xms"+l.MinMemory)
		}
		if l.MaxMemory != "" {
			args = append(args, "-Xmx"+l.MaxMemory)
		}
		args = append(args, extra...)
		args = append(args, "-jar", exe)
		if strings.EqualFold(l.GameType, "minecraft") {
			args = append(args, "nogui")
		}
		// #nosec G204
		return exec.Command(java, args...), nil
	}

	if strings.ContainsAny(exe, "|&;<>*?`$\"'(){}[]~ ") {
		line := exe
		if len(extra) > 0 {
			line += " " + strings.Join(extra, " ")
		}
		// #nosec G204
		return exec.Command("/bin/sh", "-c", line), nil
	}
	// #nosec G204
	return exec.Command(exe, extra...), nil
}
