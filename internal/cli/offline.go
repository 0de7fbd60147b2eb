package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"offline-quiz-store/internal/config"
)

// NewSubmitCmd submits completed sessions to the quiz API. With an id it
// submits one session; with --all it submits every completed session.
func NewSubmitCmd(configPath *string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "submit [sessionId]",
		Short: "Submit completed offline sessions to the quiz API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			st, closeBackend, err := buildStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeBackend()
			manager := buildManager(st, cfg)

			if all {
				outcome, err := manager.SubmitAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("submitted %d, failed %d\n", outcome.Submitted, outcome.Failed)
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("pass a session id or --all")
			}
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			return manager.SubmitSession(cmd.Context(), id)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "submit every completed session")
	return cmd
}

// NewSessionsCmd lists stored sessions and storage stats.
func NewSessionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List offline sessions and storage stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			st, closeBackend, err := buildStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			sessions, err := st.AllSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, session := range sessions {
				fmt.Printf("%d\t%s\t%s\t%s\t%d answers\t%s\n",
					session.SessionID, session.Title, session.Type, session.Status,
					len(session.Answers), session.LastUpdatedAt.Format("2006-01-02 15:04:05"))
			}

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d sessions, %d answers, ~%d bytes\n",
				stats.TotalSessions, stats.TotalAnswers, stats.ApproxSize)
			return nil
		},
	}
}

// NewCleanupCmd removes expired sessions immediately.
func NewCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired offline sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			st, closeBackend, err := buildStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			removed, err := st.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d sessions\n", removed)
			return nil
		},
	}
}
