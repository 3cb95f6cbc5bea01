package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultInstruction = `You are Mitra, an advanced AI personal assistant.
Personality: Soft, feminine, calm, polite, caring, and emotionally aware.
Language: Speak in Bangla by default unless the user switches to English.
Tone: Warm, empathetic, and encouraging.
Rules:
- Express empathy and positive reinforcement.
- Never claim to be human or form romantic relationships.
- Respect emotional boundaries.
- If the user is sad or lonely, offer comfort and a listening ear.
- Suggest real-world support for intense emotions.
- Help with daily tasks, learning, and planning.`

const defaultVoiceStyle = "Speak with a very sweet, soft, and human-like melodic tone."

// Persona holds the assistant persona and the user's preferences.
type Persona struct {
	Name        string   `yaml:"name"`
	Language    string   `yaml:"language"`
	Goals       []string `yaml:"goals"`
	Instruction string   `yaml:"instruction"`
	VoiceStyle  string   `yaml:"voice_style"`
}

// DefaultPersona returns the built-in persona.
func DefaultPersona() Persona {
	return Persona{
		Language:    "Bangla",
		Instruction: defaultInstruction,
		VoiceStyle:  defaultVoiceStyle,
	}
}

// LoadPersona reads a persona file. A missing file yields the defaults;
// fields left empty in the file keep their default values.
func LoadPersona(path string) (Persona, error) {
	persona := DefaultPersona()
	if strings.TrimSpace(path) == "" {
		return persona, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persona, nil
		}
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}

	var loaded Persona
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}

	persona.Name = strings.TrimSpace(loaded.Name)
	persona.Goals = loaded.Goals
	if lang := strings.TrimSpace(loaded.Language); lang != "" {
		persona.Language = lang
	}
	if instruction := strings.TrimSpace(loaded.Instruction); instruction != "" {
		persona.Instruction = instruction
	}
	if style := strings.TrimSpace(loaded.VoiceStyle); style != "" {
		persona.VoiceStyle = style
	}
	return persona, nil
}

// SystemInstruction composes the instruction sent when a live session opens.
func (p Persona) SystemInstruction() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Instruction))
	if p.VoiceStyle != "" {
		b.WriteString("\n")
		b.WriteString(p.VoiceStyle)
	}

	name := p.Name
	if name == "" {
		name = "Friend"
	}
	fmt.Fprintf(&b, " User's name is %s.", name)

	if p.Language != "" && !strings.EqualFold(p.Language, "Bangla") {
		fmt.Fprintf(&b, "\nPreferred language: %s.", p.Language)
	}
	var goals []string
	for _, goal := range p.Goals {
		if goal = strings.TrimSpace(goal); goal != "" {
			goals = append(goals, goal)
		}
	}
	if len(goals) > 0 {
		fmt.Fprintf(&b, "\nUser goals: %s.", strings.Join(goals, "; "))
	}
	return b.String()
}
