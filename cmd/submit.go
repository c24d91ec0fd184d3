package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/khaledhikmat/fr-go/client"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	submitURL     string
	submitTimeout time.Duration
	submitWait    time.Duration
	submitNoWait  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <image>...",
	Short: "Submit frames and wait for their recognition results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		submitter := client.NewSubmitter(submitURL, submitTimeout)

		expected := map[string]int{}
		files := map[string]string{}
		total := 0

		for _, path := range args {
			sub, err := submitter.SubmitFile(ctx, path)
			if err != nil {
				color.Red("❌ %s: %v", path, err)
				continue
			}

			switch {
			case sub.Status == http.StatusOK && len(sub.Summary.Failures) == 0:
				color.Cyan("📤 %s: request %s, %d faces queued", path, sub.Summary.RequestID, sub.Summary.FacesQueued)
			case sub.Status == http.StatusOK || sub.Status == http.StatusBadGateway:
				color.Yellow("⚠️  %s: request %s, %d of %d faces queued", path, sub.Summary.RequestID, sub.Summary.FacesQueued, sub.Summary.FacesDetected)
				for _, f := range sub.Summary.Failures {
					color.Yellow("    face %d: %s", f.FaceIndex, f.Error)
				}
			default:
				color.Red("❌ %s: %d %s", path, sub.Status, sub.Error)
				continue
			}

			if sub.Summary.FacesQueued > 0 {
				expected[sub.Summary.RequestID] = sub.Summary.FacesQueued
				files[sub.Summary.RequestID] = path
				total += sub.Summary.FacesQueued
			}
		}

		if submitNoWait || total == 0 {
			return nil
		}
		if cfgSvc.GetQueueBackend() != config.QueueBackendSQS {
			return fmt.Errorf("waiting for results needs the sqs queue backend, use --no-wait")
		}

		_, responses, err := buildQueues(ctx, cfgSvc)
		if err != nil {
			return err
		}

		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🔎 Recognizing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		waitCtx, cancel := context.WithTimeout(ctx, submitWait)
		defer cancel()

		var results []model.RecognitionResult
		collector := &client.Collector{
			Responses: responses,
			Batch:     cfgSvc.GetReceiveBatch(),
			Wait:      cfgSvc.GetReceiveWait(),
		}
		err = collector.Collect(waitCtx, expected, func(r model.RecognitionResult) {
			results = append(results, r)
			_ = bar.Add(1)
		})
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)

		for _, r := range results {
			printResult(files[r.RequestID], r)
		}
		return err
	},
}

func printResult(path string, r model.RecognitionResult) {
	switch {
	case !r.Succeeded():
		color.Red("%s face %d: error: %s", path, r.FaceIndex, *r.Error)
	case *r.Label == inference.UnknownLabel:
		color.Yellow("%s face %d: unknown (%.2f)", path, r.FaceIndex, *r.Confidence)
	default:
		color.Green("%s face %d: %s (%.2f)", path, r.FaceIndex, *r.Label, *r.Confidence)
	}
}

func init() {
	submitCmd.Flags().StringVar(&submitURL, "url", "http://localhost:8080", "Detection endpoint base URL")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 30*time.Second, "Per-request HTTP timeout")
	submitCmd.Flags().DurationVar(&submitWait, "wait", 2*time.Minute, "How long to wait for all results")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "Only submit, do not wait for results")

	rootCmd.AddCommand(submitCmd)
}
