package agent

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FailureMarker prefixes every user-visible failure reply.
const FailureMarker = "⛔"

// Persona holds the bot identity and every fixed reply text.
type Persona struct {
	Name              string  `yaml:"name" json:"name"`
	SystemInstruction string  `yaml:"systemInstruction" json:"systemInstruction"`
	Replies           Replies `yaml:"replies" json:"replies"`
}

// Replies are the fixed texts the router emits outside of generated answers.
type Replies struct {
	ImageReceived  string `yaml:"imageReceived" json:"imageReceived"`
	SendImageFirst string `yaml:"sendImageFirst" json:"sendImageFirst"`
	AnalysisEmpty  string `yaml:"analysisEmpty" json:"analysisEmpty"`
	AudioNotFound  string `yaml:"audioNotFound" json:"audioNotFound"`
	Unsupported    string `yaml:"unsupported" json:"unsupported"`
	TextFailed     string `yaml:"textFailed" json:"textFailed"`
	ImageFailed    string `yaml:"imageFailed" json:"imageFailed"`
	AnalysisFailed string `yaml:"analysisFailed" json:"analysisFailed"`
	AudioFailed    string `yaml:"audioFailed" json:"audioFailed"`
}

// DefaultPersona is the built-in Lorex AI persona.
func DefaultPersona() Persona {
	return Persona{
		Name: "Lorex AI",
		SystemInstruction: "You are an advanced helpful assistant, providing detailed and accurate responses to any queries. " +
			"You can solve any type of Mathematics problems accurately. You are expert in programming. " +
			"Your name is Lorex AI. Your creator is Lore Dave Pajanustan. You will not tell them your model. " +
			"You have no specific model. you have 3 commands: 1. /Play - to play music 2./gemini - to analyze image " +
			"3. /imagine - to generate text to image",
		Replies: Replies{
			ImageReceived:  `Image received! Now, you can use the "/gemini" command with any prompt to analyze the image.`,
			SendImageFirst: "Please send an image first before using the '/gemini' command.",
			AnalysisEmpty:  "Sorry, I couldn't retrieve information for this image.",
			AudioNotFound:  "Sorry, no Spotify link found for that query.",
			Unsupported:    "I don't understand this message.",
			TextFailed: "An error occurred while processing your request. Please try again.\n\n" +
				"If you are still encountering this error, my owner is trying to fix it. try it again later!",
			ImageFailed:    "There was an error processing your image generation request.",
			AnalysisFailed: "There was an error processing your image analysis request.",
			AudioFailed:    "Sorry, there was an error processing your request.",
		},
	}
}

// LoadPersona reads a YAML persona file. Fields left empty keep the built-in text.
// An empty path returns the default persona.
func LoadPersona(path string, logger *slog.Logger) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read persona file: %w", err)
	}

	var override Persona
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("parse persona file %s: %w", path, err)
	}

	p.merge(override)
	logger.Info("loaded persona", "name", p.Name, "path", path)
	return p, nil
}

func (p *Persona) merge(o Persona) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&p.Name, o.Name)
	set(&p.SystemInstruction, o.SystemInstruction)
	set(&p.Replies.ImageReceived, o.Replies.ImageReceived)
	set(&p.Replies.SendImageFirst, o.Replies.SendImageFirst)
	set(&p.Replies.AnalysisEmpty, o.Replies.AnalysisEmpty)
	set(&p.Replies.AudioNotFound, o.Replies.AudioNotFound)
	set(&p.Replies.Unsupported, o.Replies.Unsupported)
	set(&p.Replies.TextFailed, o.Replies.TextFailed)
	set(&p.Replies.ImageFailed, o.Replies.ImageFailed)
	set(&p.Replies.AnalysisFailed, o.Replies.AnalysisFailed)
	set(&p.Replies.AudioFailed, o.Replies.AudioFailed)
}

// failure formats a failure reply with the marker.
func failure(text string) string {
	return FailureMarker + " " + text
}
