package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"codedesk/internal/repo"
	"codedesk/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			projects, err := repo.NewProjectRepo(st).List()
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("no projects")
				return nil
			}
			for _, p := range projects {
				fmt.Printf("%s  %-20s  %s\n", p.ID, p.Name, p.Dir)
			}
			return nil
		})
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add [dir]",
	Short: "Register a directory as a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return withStore(func(st *store.Store) error {
			project, err := repo.NewProjectRepo(st).Create(name, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created project %s (%s)\n", project.ID, project.Name)
			return nil
		})
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "rm [project-id]",
	Short: "Delete a project and all of its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid project id %q: %w", args[0], err)
		}
		return withStore(func(st *store.Store) error {
			if err := repo.NewProjectRepo(st).Delete(id); err != nil {
				return err
			}
			fmt.Printf("deleted project %s\n", id)
			return nil
		})
	},
}

func init() {
	projectAddCmd.Flags().String("name", "", "project name (default: directory name)")
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
}

// withStore opens the workspace database for the duration of one command.
func withStore(fn func(*store.Store) error) error {
	st, err := store.New(cfg.DatabasePath(workspace), cfg.GetBusyTimeout())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}
