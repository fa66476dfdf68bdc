// Package gamescan classifies console output lines of supported game servers:
// player joins and leaves, the server-ready marker, and prompts indicating the
// process is blocked on an external authentication step.
package gamescan

import (
	"regexp"
	"strings"
)

// EventKind identifies what a scanned line means, if anything.
type EventKind int

const (
	EventNone EventKind = iota
	EventJoin
	EventLeave
	EventReady
	EventAuthRequired
)

// Event is the result of scanning one line. Player and PlayerID are set for
// join/leave events when the pattern captures them.
type Event struct {
	Kind     EventKind
	Player   string
	PlayerID string
}

// Patterns is a per-game set of console line matchers. Instances are
// immutable and safe for concurrent use.
type Patterns struct {
	join  *regexp.Regexp
	leave *regexp.Regexp
	ready *regexp.Regexp
	ip    *regexp.Regexp // optional; captures remote address on join-adjacent lines
	// StopCommand is the game's save-and-stop console directive, injected
	// into stdin for a graceful shutdown.
	StopCommand string
}

var (
	// Hytale:
	//   Join:  [Universe|P] Adding player 'TheFRcRaZy (uuid)'
	//   Leave: [Universe|P] Removing player 'TheFRcRaZy' (uuid)
	//   Ready: [HytaleServer] Universe ready!
	hytalePatterns = &Patterns{
		join:        regexp.MustCompile(`Adding player '(.+?) \((.+?)\)`),
		leave:       regexp.MustCompile(`Removing player '(.+?)' \((.+?)\)`),
		ready:       regexp.MustCompile(`Universe ready!`),
		ip:          regexp.MustCompile(`\{Playing\(.+? \(/([\d.]+):\d+.*?\)\), ([0-9a-f-]+), (.+?)\}`),
		StopCommand: "shutdown",
	}

	// Minecraft (vanilla/spigot/paper):
	//   Join:  [Server thread/INFO]: PlayerName joined the game
	//   Leave: [Server thread/INFO]: PlayerName left the game
	//   Ready: Done (X.XXXs)! For help, type "help"
	minecraftPatterns = &Patterns{
		join:        regexp.MustCompile(`\[.*\]: (.*) joined the game`),
		leave:       regexp.MustCompile(`\[.*\]: (.*) left the game`),
		ready:       regexp.MustCompile(`Done \([\d.]+s\)! For help`),
		StopCommand: "stop",
	}
)

// ForGameType returns the pattern set for a game type, defaulting to the
// hytale family when the type is unrecognized.
func ForGameType(gameType string) *Patterns {
	switch strings.ToLower(gameType) {
	case "minecraft":
		return minecraftPatterns
	default:
		return hytalePatterns
	}
}

// Scan classifies a single line. Matching is line-at-a-time with no
// cross-line state; join is checked before leave.
func (p *Patterns) Scan(line string) Event {
	if m := p.join.FindStringSubmatch(line); m != nil {
		ev := Event{Kind: EventJoin, Player: m[1]}
		if len(m) > 2 {
			ev.PlayerID = m[2]
		}
		return ev
	}
	if m := p.leave.FindStringSubmatch(line); m != nil {
		ev := Event{Kind: EventLeave, Player: m[1]}
		if len(m) > 2 {
			ev.PlayerID = m[2]
		}
		return ev
	}
	if p.ready.MatchString(line) {
		return Event{Kind: EventReady}
	}
	if AuthRequired(line) {
		return Event{Kind: EventAuthRequired}
	}
	return Event{}
}

// AuthRequired reports whether a console or installer line indicates the
// process is waiting on an external authentication step.
func AuthRequired(line string) bool {
	if strings.Contains(line, "IMPORTANT") &&
		(strings.Contains(line, "authenticate") || strings.Contains(line, "authentifier")) {
		return true
	}
	if strings.Contains(line, "No server tokens configured") {
		return true
	}
	return strings.Contains(line, "/auth login to authenticate")
}
