package tui

import "github.com/charmbracelet/lipgloss"

// DefaultTheme is used when the configured theme is unknown.
const DefaultTheme = "outrun"

// Theme holds the colors of the tab bar and status line.
type Theme struct {
	Name          string
	TabBarBG      lipgloss.Color
	TabActiveBG   lipgloss.Color
	TabActiveFG   lipgloss.Color
	TabInactiveBG lipgloss.Color
	TabInactiveFG lipgloss.Color
	ErrorFG       lipgloss.Color
	MetaFG        lipgloss.Color
	PromptFG      lipgloss.Color
	AccentFG      lipgloss.Color
}

var themes = map[string]Theme{
	"outrun": {
		Name:          "outrun",
		TabBarBG:      "#200838",
		TabActiveBG:   "#00e5ff",
		TabActiveFG:   "#0a0d17",
		TabInactiveBG: "#200838",
		TabInactiveFG: "#f0f1ff",
		ErrorFG:       "#ff6b6b",
		MetaFG:        "#9aa3b2",
		PromptFG:      "#ffffff",
		AccentFG:      "#70d6ff",
	},
	"gruvbox": {
		Name:          "gruvbox",
		TabBarBG:      "#3c3836",
		TabActiveBG:   "#fabd2f",
		TabActiveFG:   "#282828",
		TabInactiveBG: "#3c3836",
		TabInactiveFG: "#ebdbb2",
		ErrorFG:       "#fb4934",
		MetaFG:        "#928374",
		PromptFG:      "#ffffff",
		AccentFG:      "#83a598",
	},
	"tokyo-midnight": {
		Name:          "tokyo-midnight",
		TabBarBG:      "#1a1b26",
		TabActiveBG:   "#7aa2f7",
		TabActiveFG:   "#1a1b26",
		TabInactiveBG: "#1a1b26",
		TabInactiveFG: "#c0caf5",
		ErrorFG:       "#f7768e",
		MetaFG:        "#7f85a3",
		PromptFG:      "#ffffff",
		AccentFG:      "#7dcfff",
	},
}

// ThemeByName returns the named theme, falling back to DefaultTheme.
func ThemeByName(name string) Theme {
	if theme, ok := themes[name]; ok {
		return theme
	}
	return themes[DefaultTheme]
}
