package chat

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

var userPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
}

var (
	selfColor     = lipgloss.Color("252")
	dimColor      = lipgloss.Color("243")
	errorColor    = lipgloss.Color("203")
	reactionColor = lipgloss.Color("220")
	barColor      = lipgloss.Color("24")

	dimStyle      = lipgloss.NewStyle().Foreground(dimColor)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	deletedStyle  = lipgloss.NewStyle().Foreground(dimColor).Italic(true)
	headerStyle   = lipgloss.NewStyle().Bold(true)
	reactionStyle = lipgloss.NewStyle().Foreground(dimColor)
	mineStyle     = lipgloss.NewStyle().Foreground(reactionColor)
	barStyle      = lipgloss.NewStyle().Background(barColor).Foreground(lipgloss.Color("255"))
	statusStyle   = lipgloss.NewStyle().Foreground(dimColor)
)

func colorForUser(userID, self string) lipgloss.Color {
	if userID == self {
		return selfColor
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return userPalette[int(h.Sum32()%uint32(len(userPalette)))]
}
