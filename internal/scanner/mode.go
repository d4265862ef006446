// Package scanner holds the streaming escape-sequence scanners the daemon
// runs over raw PTY output: mode tracking (alternate screen, cursor
// visibility) and OSC 0/1/2 title extraction. Neither is a terminal
// emulator — each recognizes one narrow family of escape sequences and
// ignores everything else.
package scanner

// ModeState tracks the two pieces of terminal mode the daemon cares about:
// whether the alternate screen buffer is active, and whether the cursor is
// hidden. Both are updated in place by Scan as PTY bytes arrive.
type ModeState struct {
	AltScreen     bool
	CursorVisible bool
}

// NewModeState returns a ModeState with the terminal's default mode: main
// screen, cursor visible.
func NewModeState() *ModeState {
	return &ModeState{CursorVisible: true}
}

// Scan looks for `ESC '[' '?' DIGITS (h|l)` in data and updates m for every
// match found. It holds no state across calls beyond m itself: a private-mode
// sequence split across two Scan calls is missed, which is acceptable because
// TUIs re-emit their mode sets on every repaint and resize.
func (m *ModeState) Scan(data []byte) {
	i := 0
	for i < len(data) {
		if data[i] != 0x1b {
			i++
			continue
		}
		// Need at least ESC [ ?
		if i+2 >= len(data) || data[i+1] != '[' || data[i+2] != '?' {
			i++
			continue
		}

		j := i + 3
		digitsStart := j
		for j < len(data) && data[j] >= '0' && data[j] <= '9' {
			j++
		}
		if j == digitsStart || j >= len(data) {
			i++
			continue
		}
		final := data[j]
		if final != 'h' && final != 'l' {
			i++
			continue
		}

		value := 0
		for _, d := range data[digitsStart:j] {
			value = value*10 + int(d-'0')
		}
		set := final == 'h'

		switch value {
		case 1049, 47:
			m.AltScreen = set
		case 25:
			m.CursorVisible = set
		}

		i = j + 1
	}
}
