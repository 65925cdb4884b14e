package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu synchronizes ALL terminal output so that the cursor save/restore in
// PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ------------------------------------------------------------
// TermWriter – a mutex-guarded io.Writer for log output.
// ------------------------------------------------------------

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput(). It
// serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

// ------------------------------------------------------------
// Dashboard – live run status for the CLI.
// ------------------------------------------------------------

// RunStatus is one progress snapshot from the orchestrator.
type RunStatus struct {
	Goal         string
	Subgoal      string
	SubgoalIndex int
	SubgoalCount int
	Step         int
	MaxSteps     int
}

// Dashboard renders the banner and a single live status line above the
// scrolling log region. One instance per process; runs hand it progress
// snapshots through Update.
type Dashboard struct {
	mu       sync.Mutex
	status   RunStatus
	radarIdx int
	started  time.Time
}

func NewDashboard() *Dashboard {
	return &Dashboard{started: time.Now()}
}

// Update records the latest progress snapshot.
func (d *Dashboard) Update(st RunStatus) {
	d.mu.Lock()
	d.status = st
	d.mu.Unlock()
}

func (d *Dashboard) PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
   _____ __  ______________  ____  ___
  / ___// / / / ____/ __ \ \/ __ \/   |
  \__ \/ /_/ / __/ / /_/ /\  /_/ / /| |
 ___/ / __  / /___/ _, _/ / ____/ ___ |
/____/_/ /_/_____/_/ |_| /_/   /_/  |_|

      >> GOAL-DIRECTED UI PILOT <<
`

	width := termWidth()
	lines := strings.Split(banner, "\n")

	for _, l := range lines {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func (d *Dashboard) InitializeTerminal() {
	// Header/Logo area: 1-9
	// Dashboard/Status: 10
	// Gap: 11
	// Scrolling Logs: 12+
	fmt.Print("\033[12;r")  // Set scrolling region from line 12 to the bottom
	fmt.Print("\033[12;1H") // Move cursor to the start of the scrolling region
}

func (d *Dashboard) CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// PrintLiveStatus redraws the status line in place. Call it on a ticker.
func (d *Dashboard) PrintLiveStatus() {
	d.mu.Lock()
	st := d.status
	radar := " "
	if st.Subgoal != "" {
		radar = radarFrames[d.radarIdx]
		d.radarIdx = (d.radarIdx + 1) % len(radarFrames)
	}
	d.mu.Unlock()

	uptime := time.Since(d.started).Round(time.Second)

	displaySubgoal := st.Subgoal
	if displaySubgoal == "" {
		displaySubgoal = "Waiting..."
	}
	if len(displaySubgoal) > 30 {
		displaySubgoal = displaySubgoal[:27] + "..."
	}

	// Step budget bar
	barWidth := 20
	filled := 0
	if st.MaxSteps > 0 {
		filled = clamp(st.Step*barWidth/st.MaxSteps, 0, barWidth)
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)
	barColor := colorNeonCyan
	if st.MaxSteps > 0 && st.Step*10 >= st.MaxSteps*7 {
		barColor = colorNeonMag
	}

	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s[%s] subgoal %d/%d %-30s %s%s%s step %d/%d [%s%s%s] [%v]\033[u",
		colorReset,
		time.Now().Format("15:04:05"),
		st.SubgoalIndex, st.SubgoalCount, displaySubgoal,
		colorPurple, radar, colorReset,
		st.Step, st.MaxSteps,
		barColor, bar, colorReset,
		uptime,
	)

	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
