package agent

import "strings"

// CommandName identifies a recognized slash-command.
type CommandName string

const (
	CommandImagine CommandName = "imagine"
	CommandGemini  CommandName = "gemini"
	CommandPlay    CommandName = "play"
)

// commandPrefixes are matched case-sensitively, in this order. The trailing
// space is part of the prefix: "/imagine" on its own is plain conversation.
var commandPrefixes = []struct {
	name   CommandName
	prefix string
}{
	{CommandImagine, "/imagine "},
	{CommandGemini, "/gemini "},
	{CommandPlay, "/play "},
}

// ChatCommand is a parsed slash-command.
type ChatCommand struct {
	Name CommandName
	Arg  string // remainder after the prefix, trimmed
}

// Args splits the argument into whitespace-delimited tokens.
func (c ChatCommand) Args() []string {
	return strings.Fields(c.Arg)
}

// ParseCommand returns the command the text invokes, or nil for conversational text.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	for _, p := range commandPrefixes {
		if strings.HasPrefix(text, p.prefix) {
			return &ChatCommand{
				Name: p.name,
				Arg:  strings.TrimSpace(text[len(p.prefix):]),
			}
		}
	}
	return nil
}
