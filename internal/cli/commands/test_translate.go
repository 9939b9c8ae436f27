package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/batch"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/providers"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/pkg/subs"
)

// testTranslateCmd is the test_translate port exposed as a one-shot CLI
// invocation: it runs exactly the translation half of a job (no store, no
// request row, nothing persisted) and streams one JSON log line per event to
// stdout, ending with a terminal summary line.
var testTranslateCmd = &cobra.Command{
	Use:   "test-translate <source-lang> <target-lang> <subtitle-file>",
	Short: "translate one subtitle file against the configured backend, without persisting anything",
	Args:  argFuncs(cobra.ExactArgs(3)),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcLang, tgtLang, path := args[0], args[1], args[2]

		cfg, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		translator := providers.New(cfg.Endpoint, cfg.Model, cfg.APIKey)

		return runTestTranslate(cmd.Context(), translator, srcLang, tgtLang, path, cfg)
	},
}

type testTranslateEvent struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Details   string `json:"details,omitempty"`
}

type testTranslateResult struct {
	Success    bool    `json:"success"`
	Total      int     `json:"total"`
	Translated int     `json:"translated"`
	Duration   float64 `json:"duration"`
}

func emitEvent(level, message, details string) {
	e := testTranslateEvent{Level: level, Message: message, Timestamp: time.Now().Format(time.RFC3339), Details: details}
	b, _ := json.Marshal(e)
	fmt.Println(string(b))
}

func runTestTranslate(ctx context.Context, translator translate.Translator, srcLang, tgtLang, path string, cfg config.Settings) error {
	start := time.Now()

	emitEvent("info", "opening subtitle file", path)
	doc, err := subs.OpenFile(path)
	if err != nil {
		emitEvent("error", "failed to open subtitle file", err.Error())
		return err
	}
	items := doc.Items()
	emitEvent("info", "parsed source subtitle", fmt.Sprintf("%d lines", len(items)))

	raw := make([]string, len(items))
	for i, it := range items {
		raw[i] = ""
		for j, l := range it.Lines {
			if j > 0 {
				raw[i] += "\n"
			}
			raw[i] += l
		}
	}

	var translatedLines []string
	if bt, ok := translator.(translate.BatchTranslator); ok && cfg.UseBatchTranslation {
		emitEvent("info", "translating in batch mode", translator.Name())
		translatedLines, err = batch.Translate(ctx, bt, raw, srcLang, tgtLang, batch.Options{
			StripFormatting:       cfg.StripSubtitleFormatting,
			MaxBatchSize:          cfg.MaxBatchSize,
			RetryMode:             batch.RetryMode(cfg.BatchRetryMode),
			MaxBatchSplitAttempts: cfg.MaxBatchSplitAttempts,
			RepairContextRadius:   cfg.RepairContextRadius,
			RepairMaxRetries:      cfg.RepairMaxRetries,
			ContextBefore:         cfg.ContextBefore,
			ContextAfter:          cfg.ContextAfter,
		}, func(pct int) {
			emitEvent("debug", "progress", fmt.Sprintf("%d%%", pct))
		})
	} else {
		emitEvent("info", "translating line by line", translator.Name())
		translatedLines = make([]string, len(raw))
		for i, text := range raw {
			translatedLines[i], err = translator.TranslateLine(ctx, text, srcLang, tgtLang)
			if err != nil {
				break
			}
		}
	}

	result := testTranslateResult{Total: len(items), Duration: time.Since(start).Seconds()}
	if err != nil {
		emitEvent("error", "translation failed", err.Error())
		result.Success = false
		printResult(result)
		return err
	}

	for i := range items {
		items[i].TranslatedLines = []string{translatedLines[i]}
	}
	result.Success = true
	result.Translated = len(translatedLines)
	emitEvent("info", "translation completed", "")
	printResult(result)
	return nil
}

func printResult(r testTranslateResult) {
	b, _ := json.Marshal(r)
	fmt.Println(string(b))
	_ = os.Stdout.Sync()
}
