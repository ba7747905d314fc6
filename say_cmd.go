package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var sayCmd = &cobra.Command{
	Use:     "say [text]",
	Short:   "Speak text with the configured engine",
	Long:    paragraph(fmt.Sprintf("\n%s text aloud and wait until it has been spoken. Useful to check the speech setup.", keyword("Speak"))),
	Example: paragraph("localvision say Hello there\nlocalvision say --engine mock testing"),
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readMessage(args)
		if err != nil {
			return err
		}
		if !cfg.TTS.Enabled {
			return errors.New("speech is disabled (tts.enabled is false)")
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := newApp(cfg, appOptions{speech: true})
		if err != nil {
			return err
		}
		defer a.Close()

		a.speech.Speak(text, false)
		if err := a.waitForSpeech(ctx); err != nil {
			a.speech.Stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	},
}
