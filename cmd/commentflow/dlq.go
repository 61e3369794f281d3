package main

import (
	"fmt"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/drblury/commentflow/internal/broker"
	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
	"github.com/drblury/commentflow/internal/runtime/metadata"
)

var inspectDeadLetters = broker.InspectDeadLetters

type deadLetterView struct {
	MessageID     string            `json:"messageId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Headers       metadata.Metadata `json:"headers,omitempty"`
	Body          string            `json:"body"`
	Timestamp     time.Time         `json:"timestamp"`
}

type deadLetterReportView struct {
	Queue     string           `json:"queue"`
	Messages  int              `json:"messages"`
	Consumers int              `json:"consumers"`
	Sample    []deadLetterView `json:"sample"`
}

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Operate on the dead-letter queue",
	}
	cmd.AddCommand(dlqInspectCmd())
	return cmd
}

func dlqInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report the dead-letter queue depth and peek at parked comments",
		Example: heredoc.Doc(`
			$ commentflow dlq inspect --limit 5
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("getting limit flag value: %w", err)
			}
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative, got %d", limit)
			}

			cfg, _, err := bootstrap(cmd)
			if err != nil {
				return err
			}

			report, err := inspectDeadLetters(cfg.Broker, limit)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", cfg.Broker.DeadLetterQueue, err)
			}

			view := deadLetterReportView{
				Queue:     report.Queue,
				Messages:  report.Messages,
				Consumers: report.Consumers,
				Sample:    make([]deadLetterView, 0, len(report.Sample)),
			}
			for _, d := range report.Sample {
				view.Sample = append(view.Sample, deadLetterView{
					MessageID:     d.MessageID,
					CorrelationID: d.CorrelationID,
					Headers:       d.Headers,
					Body:          string(d.Body),
					Timestamp:     d.Timestamp,
				})
			}

			out, err := jsoncodec.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().IntP("limit", "n", 10, "Number of messages to peek at")
	return cmd
}
