package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command is a slash command with its handler and menu metadata.
// AdminOnly commands are wrapped with the admin check and never shown in the menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

// Public reports whether the command belongs in the command menu.
func (c Command) Public() bool {
	return !c.Hidden && !c.AdminOnly
}
