package main

import (
	"fmt"
	"os"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:                   "man",
	Short:                 "Generates manpages",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Hidden:                true,
	Args:                  cobra.NoArgs,
	PersistentPreRunE:     func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		page, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return err //nolint:wrapcheck
		}

		page = page.WithSection("Environment",
			"OPENAI_API_KEY is the key for the OpenAI vision model.\n"+
				"DASHSCOPE_API_KEY is the key for the Qwen vision model.\n"+
				"NARRATE_SPEECH_COMMAND overrides the speech synthesizer command.\n"+
				"Any configuration key can be set as NARRATE_<KEY>, e.g. NARRATE_DESCRIBE_PROVIDER.")
		page = page.WithSection("Files",
			"narrate.yml in the user configuration directory holds the settings. "+
				"Run narrate config to edit it.")

		_, err = fmt.Fprint(os.Stdout, page.Build(roff.NewDocument()))
		return err //nolint:wrapcheck
	},
}
