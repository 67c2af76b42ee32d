package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/lexiqai/dialogue-gateway/internal/audio"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	decodeOutput     string
	decodeSampleRate int
)

// decodeResult is the JSON form of a decoded payload
type decodeResult struct {
	MIMEType   string  `json:"mime_type"`
	SampleRate int     `json:"sample_rate"`
	Samples    int     `json:"samples"`
	Duration   float64 `json:"duration_seconds"`
	RMS        float64 `json:"rms"`
	Peak       float64 `json:"peak"`
	Output     string  `json:"output,omitempty"`
}

var decodeCmd = &cobra.Command{
	Use:   "decode <payload-file>",
	Short: "Decode a saved speech payload",
	Long: `Decode a speech payload ({"mimeType": ..., "data": ...}) saved as JSON or YAML.

The sample rate comes from the rate= parameter of the MIME type, falling back
to --default-rate. With -o the samples are written as a WAV file.

Examples:
  npcctl decode payload.json
  npcctl decode payload.json -o reply.wav --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload audio.Payload
		if err := loadPayload(args[0], &payload); err != nil {
			return err
		}

		decoded, err := audio.NewDecoder(decodeSampleRate).Decode(payload)
		if err != nil {
			return err
		}

		out := decodeResult{
			MIMEType:   payload.MIMEType,
			SampleRate: decoded.SampleRate,
			Samples:    len(decoded.Samples),
			Duration:   decoded.Duration().Seconds(),
			RMS:        audio.CalculateRMS(decoded.Samples),
			Peak:       audio.Peak(decoded.Samples),
		}

		if decodeOutput != "" {
			wav, err := decoded.WAV()
			if err != nil {
				return fmt.Errorf("failed to encode WAV: %w", err)
			}
			if err := saveToFile(decodeOutput, wav); err != nil {
				return err
			}
			out.Output = decodeOutput
		}

		if outputJSON {
			return printJSON(out)
		}

		fmt.Printf("%d samples at %d Hz (%.2fs), rms %.4f, peak %.4f\n",
			out.Samples, out.SampleRate, out.Duration, out.RMS, out.Peak)
		if out.Output != "" {
			fmt.Printf("saved: %s\n", out.Output)
		}
		return nil
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "", "write samples to this WAV file")
	decodeCmd.Flags().IntVar(&decodeSampleRate, "default-rate", audio.DefaultSampleRate, "sample rate when the MIME type has none")
}

// loadPayload reads a payload from a YAML or JSON file
func loadPayload(path string, payload *audio.Payload) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw struct {
			MIMEType string `yaml:"mimeType"`
			Data     string `yaml:"data"`
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
		payload.MIMEType, payload.Data = raw.MIMEType, raw.Data
	default:
		if err := sonic.Unmarshal(data, payload); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	}
	return nil
}
