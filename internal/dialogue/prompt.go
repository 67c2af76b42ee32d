package dialogue

import "fmt"

// BuildPrompt conditions the player's question on the character persona
func BuildPrompt(persona, question string) string {
	return fmt.Sprintf("%s\n\nPlayer: \"%s\"\n\nCharacter:", persona, question)
}

// StripQuotes removes one pair of surrounding double quotes.
// Text shorter than three characters is returned unchanged, so `""` stays as is.
func StripQuotes(text string) string {
	if len(text) > 2 && text[0] == '"' && text[len(text)-1] == '"' {
		return text[1 : len(text)-1]
	}
	return text
}
