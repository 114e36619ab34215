package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lecture-capture-service/internal/app"
	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/service/notes"
	"lecture-capture-service/internal/service/pipeline"
)

// NewProcessCmd builds the process command, which runs the pipeline over a local
// audio file and prints the result as JSON.
func NewProcessCmd(opts *Options) *cobra.Command {
	var (
		userID   string
		mimeType string
		noteOpts notes.Options
	)

	cmd := &cobra.Command{
		Use:   "process <audio-file>",
		Short: "Upload, transcribe and generate notes for a recorded lecture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			application := app.New(cfg)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			defer application.Shutdown()

			res := application.Pipeline.Run(cmd.Context(), models.NewAudioArtifact(data, mimeType, 0), pipeline.PersistenceContext{
				UserID:  userID,
				Options: noteOpts,
			})
			if err := printResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("%s: %s", res.Error, res.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User id owning the lecture")
	cmd.Flags().StringVar(&mimeType, "mime", "", "Audio MIME type (sniffed when empty)")
	cmd.Flags().StringVarP(&noteOpts.Title, "title", "t", "", "Lecture title")
	cmd.Flags().StringVarP(&noteOpts.Subject, "subject", "s", "", "Course or subject")
	cmd.Flags().StringVarP(&noteOpts.Language, "language", "l", "", "Language of the notes")
	cmd.Flags().StringVar(&noteOpts.Detail, "detail", "", "Notes detail: brief or detailed")

	return cmd
}

func printResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
