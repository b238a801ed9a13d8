package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/internal/log"
	internal_storage "github.com/amrishkapoor-tt/buildpro-backend-sub001/internal/storage"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/service"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	startCmd := &cobra.Command{
		Use:   "start [entity-type] [entity-id] [project-id] [actor-id]",
		Short: "Start a workflow for a business entity",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := newService(cmd)
			defer store.Close()
			entityID := parseID(args[1], "entity-id")
			projectID := parseID(args[2], "project-id")
			actorID := parseID(args[3], "actor-id")
			view, err := svc.Start(args[0], entityID, projectID, actorID)
			if err != nil {
				log.GetLogger().Errorf("Failed to start workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to start workflow: %v\n", err)
				os.Exit(1)
			}
			printInstance(view)
		},
	}

	transitionCmd := &cobra.Command{
		Use:   "transition [instance-id] [action] [actor-id]",
		Short: "Apply an action to a workflow instance",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := newService(cmd)
			defer store.Close()
			instanceID := parseID(args[0], "instance-id")
			actorID := parseID(args[2], "actor-id")
			comment, _ := cmd.Flags().GetString("comment")
			view, err := svc.Transition(instanceID, args[1], actorID, comment)
			if err != nil {
				log.GetLogger().Errorf("Failed to apply action: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to apply action: %v\n", err)
				os.Exit(1)
			}
			printInstance(view)
		},
	}
	transitionCmd.Flags().String("comment", "", "Optional comment recorded in the history ledger")

	cancelCmd := &cobra.Command{
		Use:   "cancel [instance-id] [actor-id]",
		Short: "Force-cancel a workflow instance (administrative)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := newService(cmd)
			defer store.Close()
			instanceID := parseID(args[0], "instance-id")
			actorID := parseID(args[1], "actor-id")
			reason, _ := cmd.Flags().GetString("reason")
			view, err := svc.ForceCancel(instanceID, actorID, reason)
			if err != nil {
				log.GetLogger().Errorf("Failed to cancel instance: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to cancel instance: %v\n", err)
				os.Exit(1)
			}
			printInstance(view)
		},
	}
	cancelCmd.Flags().String("reason", "", "Reason recorded in the history ledger")

	historyCmd := &cobra.Command{
		Use:   "history [instance-id]",
		Short: "Show the history ledger of a workflow instance",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := newService(cmd)
			defer store.Close()
			instanceID := parseID(args[0], "instance-id")
			entries, err := svc.GetWorkflowHistory(instanceID)
			if err != nil {
				log.GetLogger().Errorf("Failed to fetch history: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to fetch history: %v\n", err)
				os.Exit(1)
			}
			for _, e := range entries {
				actor := "system"
				if e.ActorName != "" {
					actor = e.ActorName
				} else if e.ActorID != nil {
					actor = fmt.Sprintf("user %d", *e.ActorID)
				}
				fmt.Fprintf(os.Stdout, "- %s: %s (%s -> %s) by %s\n",
					e.CreatedAt.Format(time.RFC3339), e.ActionType, e.FromStageName, e.ToStageName, actor)
			}
		},
	}

	tasksCmd := &cobra.Command{
		Use:   "tasks [user-id]",
		Short: "List active workflow instances assigned to a user",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := newService(cmd)
			defer store.Close()
			userID := parseID(args[0], "user-id")
			tasks, err := svc.GetUserTasks(userID)
			if err != nil {
				log.GetLogger().Errorf("Failed to list tasks: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list tasks: %v\n", err)
				os.Exit(1)
			}
			if len(tasks) == 0 {
				fmt.Fprintf(os.Stdout, "No tasks found.\n")
				return
			}
			for _, t := range tasks {
				printInstance(t)
			}
		},
	}

	listCmd := &cobra.Command{
		Use:   "list [project-id]",
		Short: "List all workflow instances of a project",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := newService(cmd)
			defer store.Close()
			projectID := parseID(args[0], "project-id")
			workflows, err := svc.GetProjectWorkflows(projectID)
			if err != nil {
				log.GetLogger().Errorf("Failed to list workflows: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
				os.Exit(1)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			for _, wf := range workflows {
				printInstance(wf)
			}
		},
	}

	rootCmd.AddCommand(startCmd, transitionCmd, cancelCmd, historyCmd, tasksCmd, listCmd)
}

func newService(cmd *cobra.Command) (*service.WorkflowService, *internal_storage.PostgresStore) {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.NewPostgresStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	svc, err := service.NewWorkflowService(store, log.GetLogger())
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize workflow service: %v", err)
		os.Exit(1)
	}
	return svc, store
}

func parseID(arg, name string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s as number: %v\n", name, err)
		os.Exit(1)
	}
	return id
}

func printInstance(view models.InstanceView) {
	assignee := "unassigned"
	if view.AssigneeName != "" {
		assignee = view.AssigneeName
	} else if view.AssigneeID != nil {
		assignee = fmt.Sprintf("user %d", *view.AssigneeID)
	}
	fmt.Fprintf(os.Stdout, "- ID: %d, Template: %s, Entity: %s/%d, Stage: %s, Status: %s, Assignee: %s, Created: %s\n",
		view.ID, view.TemplateName, view.EntityType, view.EntityID,
		view.CurrentStageName, view.Status, assignee, view.CreatedAt.Format(time.RFC3339))
}
