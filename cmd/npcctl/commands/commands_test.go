package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lexiqai/dialogue-gateway/internal/audio"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadPayload(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "payload.json", `{"mimeType":"audio/L16;rate=16000","data":"AAAAQA=="}`},
		{"yaml", "payload.yaml", "mimeType: audio/L16;rate=16000\ndata: AAAAQA==\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload audio.Payload
			if err := loadPayload(writeFile(t, tt.file, tt.content), &payload); err != nil {
				t.Fatalf("loadPayload() failed: %v", err)
			}
			if payload.MIMEType != "audio/L16;rate=16000" {
				t.Errorf("Unexpected mimeType '%s'", payload.MIMEType)
			}
			if payload.Data != "AAAAQA==" {
				t.Errorf("Unexpected data '%s'", payload.Data)
			}
		})
	}
}

func TestLoadPayload_Invalid(t *testing.T) {
	var payload audio.Payload
	if err := loadPayload(writeFile(t, "bad.json", "{"), &payload); err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if err := loadPayload(filepath.Join(t.TempDir(), "missing.json"), &payload); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestResolveNPC(t *testing.T) {
	catalogFile = writeFile(t, "npcs.yaml", "npcs:\n  - id: guard\n    persona: You guard the gate.\n    voice: Puck\n")
	defer func() {
		catalogFile, askNPC, askPersona, askVoice = "", "", "", ""
	}()

	askNPC = "guard"
	persona, voice, err := resolveNPC()
	if err != nil {
		t.Fatalf("resolveNPC() failed: %v", err)
	}
	if persona != "You guard the gate." || voice != "Puck" {
		t.Errorf("Unexpected persona/voice: %q %q", persona, voice)
	}

	askVoice = "Kore"
	if _, voice, _ = resolveNPC(); voice != "Kore" {
		t.Errorf("Expected --voice to override catalog voice, got '%s'", voice)
	}

	askNPC = "ghost"
	if _, _, err := resolveNPC(); err == nil {
		t.Error("Expected error for unknown NPC")
	}

	askNPC, askPersona = "", ""
	if _, _, err := resolveNPC(); err == nil {
		t.Error("Expected error without persona")
	}
}

func TestLogOutput_DefaultsToStderr(t *testing.T) {
	if logOutput != os.Stderr {
		t.Error("Expected CLI logs to go to stderr so --json stdout stays parseable")
	}
}
