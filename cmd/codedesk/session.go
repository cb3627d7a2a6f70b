package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"codedesk/internal/harness"
	"codedesk/internal/repo"
	"codedesk/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions and their transcripts",
}

var sessionListCmd = &cobra.Command{
	Use:   "list [project-id]",
	Short: "List a project's sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid project id %q: %w", args[0], err)
		}
		return withStore(func(st *store.Store) error {
			sessions, err := st.ListSessionsByProject(projectID)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				bound := "unbound"
				if s.HarnessSessionID != "" {
					bound = s.HarnessSessionID
				}
				fmt.Printf("%s  %-24s  %s\n", s.ID, s.Name, bound)
			}
			return nil
		})
	},
}

var sessionNewCmd = &cobra.Command{
	Use:   "new [project-id]",
	Short: "Create a session bound to a fresh harness session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid project id %q: %w", args[0], err)
		}
		name, _ := cmd.Flags().GetString("name")

		proc, client, err := startHarness(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer proc.Stop(2 * time.Second)

		return withStore(func(st *store.Store) error {
			session, err := repo.NewSessionRepo(st, client).Create(cmd.Context(), projectID, name)
			if err != nil {
				return err
			}
			fmt.Printf("created session %s bound to %s\n", session.ID, session.HarnessSessionID)
			return nil
		})
	},
}

var sessionSendCmd = &cobra.Command{
	Use:   "send [session-id] [text...]",
	Short: "Send a prompt and print the assistant's reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}
		text := strings.Join(args[1:], " ")
		providerID, _ := cmd.Flags().GetString("provider")
		modelID, _ := cmd.Flags().GetString("model")

		proc, client, err := startHarness(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer proc.Stop(2 * time.Second)

		return withStore(func(st *store.Store) error {
			input := repo.SendMessageInput{
				Parts: []harness.PartInput{harness.TextPartInput(text)},
			}
			if providerID != "" && modelID != "" {
				input.Model = &harness.ModelSelection{ProviderID: providerID, ModelID: modelID}
			}
			msg, err := repo.NewMessageRepo(st, client).SendMessage(cmd.Context(), sessionID, input)
			if err != nil {
				return err
			}
			printMessage(msg)
			return nil
		})
	},
}

var sessionProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the harness's available providers and models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, client, err := startHarness(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer proc.Stop(2 * time.Second)

		resp, err := client.Providers(cmd.Context(), workspace)
		if err != nil {
			return err
		}
		for _, p := range resp.Providers {
			def := resp.Default[p.ID]
			for model := range p.Models {
				marker := " "
				if model == def {
					marker = "*"
				}
				fmt.Printf("%s %s/%s\n", marker, p.ID, model)
			}
		}
		return nil
	},
}

var sessionLogCmd = &cobra.Command{
	Use:   "log [session-id]",
	Short: "Print a session's stored transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(st *store.Store) error {
			msgs, err := st.ListSessionMessages(sessionID, limit)
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				printMessage(msg)
			}
			return nil
		})
	},
}

func printMessage(msg store.Message) {
	fmt.Printf("[%s] %s %s\n", msg.CreatedAt, msg.Role, msg.ID)
	for _, part := range msg.Parts {
		switch part.PartType {
		case "tool":
			fmt.Printf("  (tool) %s\n", part.ToolJSON)
		default:
			fmt.Printf("  %s\n", part.Text)
		}
	}
}

func init() {
	sessionNewCmd.Flags().String("name", "", "session name")
	sessionSendCmd.Flags().String("provider", "", "provider id")
	sessionSendCmd.Flags().String("model", "", "model id")
	sessionLogCmd.Flags().Int("limit", 0, "max messages (0 = all)")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionSendCmd)
	sessionCmd.AddCommand(sessionProvidersCmd)
	sessionCmd.AddCommand(sessionLogCmd)
}
