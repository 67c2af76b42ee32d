package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/dialogue-gateway/internal/audio"
	"github.com/lexiqai/dialogue-gateway/internal/config"
	"github.com/lexiqai/dialogue-gateway/internal/dialogue"
	"github.com/lexiqai/dialogue-gateway/internal/generation"
	"github.com/spf13/cobra"
)

var (
	askNPC     string
	askPersona string
	askVoice   string
	askOutput  string
)

// askResult is the JSON form of a reply
type askResult struct {
	Text       string  `json:"text"`
	HasAudio   bool    `json:"has_audio"`
	Voice      string  `json:"voice"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Samples    int     `json:"samples,omitempty"`
	Duration   float64 `json:"duration_seconds,omitempty"`
	RMS        float64 `json:"rms,omitempty"`
	Output     string  `json:"output,omitempty"`
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask an NPC one question",
	Long: `Ask an NPC one question and print the reply.

The NPC is taken from the catalog with --npc, or described directly with
--persona and --voice. When the reply carries audio and -o is given, the
audio is written as a 16-bit mono WAV file.

Examples:
  npcctl ask --npc ferryman "Can I cross?" -o reply.wav
  npcctl ask --persona "You are a grumpy blacksmith." "Fix my sword?" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		persona, voice, err := resolveNPC()
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		client, err := generation.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		orch := dialogue.NewOrchestrator(client, dialogue.Options{
			FallbackMessage:   cfg.FallbackMessage,
			DefaultVoice:      cfg.DefaultVoice,
			DefaultSampleRate: cfg.DefaultSampleRate,
		})

		results := make(chan dialogue.Result, 1)
		session := orch.OpenSession(voice, func(r dialogue.Result) { results <- r })
		defer orch.CloseSession(session)

		if err := orch.AskQuestion(session, persona, question); err != nil {
			return err
		}

		// Both stages may retry, so allow each its full timeout plus slack
		wait := 2*cfg.Timeout()*time.Duration(cfg.RetryMaxAttempts) + 5*time.Second
		var result dialogue.Result
		select {
		case result = <-results:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			return fmt.Errorf("no reply after %v", wait)
		}

		return printReply(result, session.Voice())
	},
}

func init() {
	askCmd.Flags().StringVar(&askNPC, "npc", "", "catalog NPC id")
	askCmd.Flags().StringVar(&askPersona, "persona", "", "persona text (overrides the catalog NPC)")
	askCmd.Flags().StringVar(&askVoice, "voice", "", "prebuilt voice name (overrides the catalog NPC)")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "write reply audio to this WAV file")
}

// resolveNPC combines catalog and flag values into a persona and voice
func resolveNPC() (string, string, error) {
	persona, voice := askPersona, askVoice

	if askNPC != "" {
		cat, err := loadCatalog()
		if err != nil {
			return "", "", err
		}
		npc, ok := cat.Get(askNPC)
		if !ok {
			return "", "", fmt.Errorf("npc %q not found in catalog", askNPC)
		}
		if persona == "" {
			persona = npc.Persona
		}
		if voice == "" {
			voice = npc.Voice
		}
	}

	if strings.TrimSpace(persona) == "" {
		return "", "", fmt.Errorf("a persona is required, use --npc or --persona")
	}
	return persona, voice, nil
}

func printReply(result dialogue.Result, voice string) error {
	out := askResult{
		Text:     result.Text,
		HasAudio: result.HasAudio(),
		Voice:    voice,
	}

	if result.HasAudio() {
		out.SampleRate = result.Audio.SampleRate
		out.Samples = len(result.Audio.Samples)
		out.Duration = result.Audio.Duration().Seconds()
		out.RMS = audio.CalculateRMS(result.Audio.Samples)

		if askOutput != "" {
			wav, err := result.Audio.WAV()
			if err != nil {
				return fmt.Errorf("failed to encode WAV: %w", err)
			}
			if err := saveToFile(askOutput, wav); err != nil {
				return err
			}
			out.Output = askOutput
		}
	}

	if outputJSON {
		return printJSON(out)
	}

	fmt.Println(out.Text)
	if !out.HasAudio {
		fmt.Println("(no audio)")
		return nil
	}
	fmt.Printf("audio: %d samples at %d Hz (%.2fs)\n", out.Samples, out.SampleRate, out.Duration)
	if out.Output != "" {
		fmt.Printf("saved: %s\n", out.Output)
	}
	return nil
}
