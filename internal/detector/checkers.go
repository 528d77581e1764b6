package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/nudge/pkg/executor"
)

const (
	pgrepTimeout       = 3 * time.Second
	appleScriptTimeout = 5 * time.Second
)

// Meeting is what a checker saw
type Meeting struct {
	Active   bool
	Platform string
	Title    string
}

// Checker checks one meeting platform. An error counts as no meeting.
type Checker interface {
	Name() string
	Check(ctx context.Context) (Meeting, error)
}

// processChecker reports a meeting while pgrep matches. pgrep exits non-zero
// when nothing matches, which surfaces as an error.
type processChecker struct {
	exec     executor.Executor
	platform string
	args     []string
	// title, when set, names the meeting once the process is found.
	title func(ctx context.Context) string
}

func (p *processChecker) Name() string { return p.platform }

func (p *processChecker) Check(ctx context.Context) (Meeting, error) {
	pctx, cancel := context.WithTimeout(ctx, pgrepTimeout)
	defer cancel()
	if _, err := p.exec.Execute(pctx, "pgrep", p.args...); err != nil {
		return Meeting{}, err
	}

	m := Meeting{Active: true, Platform: p.platform}
	if p.title != nil {
		m.Title = p.title(ctx)
	}
	return m, nil
}

// scriptChecker reports a meeting when its AppleScript prints a title.
type scriptChecker struct {
	exec     executor.Executor
	platform string
	script   string
}

func (p *scriptChecker) Name() string { return p.platform }

func (p *scriptChecker) Check(ctx context.Context) (Meeting, error) {
	title, err := runAppleScript(ctx, p.exec, p.script)
	if err != nil {
		return Meeting{}, err
	}
	if title == "" {
		return Meeting{}, nil
	}
	return Meeting{Active: true, Platform: p.platform, Title: title}, nil
}

func runAppleScript(ctx context.Context, exec executor.Executor, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, appleScriptTimeout)
	defer cancel()
	out, err := exec.Execute(ctx, "osascript", "-e", script)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DefaultCheckers covers Zoom, Teams, Google Meet and Webex. Without
// AppleScript only the process checkers remain and Zoom goes untitled.
func DefaultCheckers(exec executor.Executor, appleScript bool) []Checker {
	zoom := &processChecker{exec: exec, platform: "Zoom", args: []string{"-x", "CptHost"}}
	if appleScript {
		zoom.title = func(ctx context.Context) string {
			title, _ := runAppleScript(ctx, exec, zoomTitleScript)
			return title
		}
	}
	checkers := []Checker{zoom}

	if appleScript {
		checkers = append(checkers,
			&scriptChecker{exec: exec, platform: "Microsoft Teams", script: teamsScript("Microsoft Teams")},
			&scriptChecker{exec: exec, platform: "Microsoft Teams", script: teamsScript("MSTeams")},
			&scriptChecker{exec: exec, platform: "Google Meet", script: browserMeetScript("Google Chrome", "title")},
			&scriptChecker{exec: exec, platform: "Google Meet (Edge)", script: browserMeetScript("Microsoft Edge", "title")},
			&scriptChecker{exec: exec, platform: "Google Meet (Safari)", script: browserMeetScript("Safari", "name")},
		)
	}

	checkers = append(checkers, &processChecker{
		exec:     exec,
		platform: "Webex",
		args:     []string{"-fi", "webex"},
		title:    func(context.Context) string { return "Webex Meeting" },
	})
	return checkers
}

// Zoom spawns CptHost only during a call; its first named window is the meeting.
const zoomTitleScript = `
tell application "System Events"
	if exists process "zoom.us" then
		tell process "zoom.us"
			set wins to every window whose name is not ""
			if length of wins > 0 then
				return name of item 1 of wins
			end if
		end tell
	end if
end tell
return ""`

// Teams renames its window while a call is joined.
func teamsScript(process string) string {
	return fmt.Sprintf(`
tell application "System Events"
	if exists process %[1]q then
		tell process %[1]q
			set winTitles to name of every window
			repeat with t in winTitles
				set ts to t as string
				if ts contains "| Microsoft Teams" then
					return ts
				end if
				if ts contains "Teams" then
					if ts contains "Call" or ts contains "Meeting" or ts contains "joined" then
						return ts
					end if
				end if
			end repeat
		end tell
	end if
end tell
return ""`, process)
}

// A Meet tab keeps the title "Google Meet" until a call is joined.
func browserMeetScript(browser, titleProperty string) string {
	return fmt.Sprintf(`
tell application "System Events"
	if not (exists process %[1]q) then return ""
end tell
tell application %[1]q
	repeat with w in windows
		repeat with t in tabs of w
			try
				if URL of t contains "meet.google.com/" then
					set tabTitle to %[2]s of t
					if tabTitle is not "Google Meet" and tabTitle does not contain "New meeting" then
						return tabTitle
					end if
				end if
			end try
		end repeat
	end repeat
end tell
return ""`, browser, titleProperty)
}
