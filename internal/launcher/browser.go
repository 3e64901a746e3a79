package launcher

import (
	"os/exec"
	"runtime"
)

// OpenBrowser best-effort opens url in the user's default browser,
// grounded on _examples/original_source/app.py's webbrowser.open
// auto-launch behavior, translated to the per-OS opener binary since Go
// has no stdlib browser-launch equivalent to Python's webbrowser module.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
