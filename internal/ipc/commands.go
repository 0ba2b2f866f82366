package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Command is a control request for a running watcher.
type Command string

const (
	CmdPause  Command = "pause"  // stop picking up new files
	CmdResume Command = "resume"
	CmdRescan Command = "rescan" // re-scan the inbox for unprocessed videos
	CmdQuit   Command = "quit"
)

// ParseCommand validates s.
func ParseCommand(s string) (Command, error) {
	cmd := Command(strings.ToLower(strings.TrimSpace(s)))
	switch cmd {
	case CmdPause, CmdResume, CmdRescan, CmdQuit:
		return cmd, nil
	}
	return "", fmt.Errorf("unknown command %q (want pause, resume, rescan or quit)", s)
}

func commandPath(dir string) string {
	return filepath.Join(dir, "cmd.txt")
}

// WriteCommand leaves cmd in dir/cmd.txt for the watcher.
func WriteCommand(dir string, cmd Command) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(commandPath(dir), []byte(cmd), 0644)
}

// ReadCommand consumes a pending command. It returns "" when none is pending
// or the file holds something unrecognised.
func ReadCommand(dir string) (Command, error) {
	path := commandPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	cmd, err := ParseCommand(string(data))
	if err != nil {
		return "", nil
	}
	return cmd, nil
}
