package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/nudge/pkg/executor"
)

const scriptTimeout = 15 * time.Second

// appleDateLayout is the form AppleScript's date coercion accepts.
const appleDateLayout = "January 2, 2006 at 03:04 PM"

// AppleScriptBackend drives macOS Reminders through osascript
type AppleScriptBackend struct {
	exec executor.Executor
}

func NewAppleScriptBackend(exec executor.Executor) *AppleScriptBackend {
	return &AppleScriptBackend{exec: exec}
}

func (a *AppleScriptBackend) Name() string { return "applescript" }

func (a *AppleScriptBackend) EnsureList(ctx context.Context, list string) error {
	script := fmt.Sprintf(`tell application "Reminders"
	if not (exists list "%[1]s") then
		make new list with properties {name:"%[1]s"}
	end if
end tell`, escape(list))
	return a.run(ctx, script)
}

func (a *AppleScriptBackend) Add(ctx context.Context, r Reminder) error {
	return a.run(ctx, addScript(r))
}

func addScript(r Reminder) string {
	props := fmt.Sprintf(`name:"%s"`, escape(r.Title))
	if r.Due != nil {
		props += fmt.Sprintf(`, due date:date "%s"`, r.Due.Local().Format(appleDateLayout))
	}
	if r.Notes != "" {
		props += fmt.Sprintf(`, body:"%s"`, escape(r.Notes))
	}
	return fmt.Sprintf(`tell application "Reminders"
	set theList to list "%s"
	make new reminder at end of theList with properties {%s}
end tell`, escape(r.List), props)
}

func (a *AppleScriptBackend) run(ctx context.Context, script string) error {
	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	if _, err := a.exec.Execute(ctx, "osascript", "-e", script); err != nil {
		return fmt.Errorf("osascript failed: %w", err)
	}
	return nil
}

var scriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escape(s string) string {
	return scriptEscaper.Replace(s)
}
