package banner

import (
	"github.com/charmbracelet/lipgloss"
)

var colorBanner = lipgloss.Color("#7D56F4")

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(colorBanner).
		Bold(true)

	ascii := `
                     ______                   __  
    ____  ____  ____  / / __ )___  ____  _____/ /_ 
   / __ \/ __ \/ __ \/ / __  / _ \/ __ \/ ___/ __ \
  / /_/ / /_/ / /_/ / / /_/ /  __/ / / / /__/ / / /
 / .___/\____/\____/_/_____/\___/_/ /_/\___/_/ /_/ 
/_/                                                `

	return "\n" + style.Render(ascii) + "\n"
}
