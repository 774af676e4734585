package cli

import (
	"context"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/spf13/cobra"
)

func newExternalTaskCmd(cli *Cli) *cobra.Command {
	c := cobra.Command{
		Use:         "external-task",
		Short:       "Manage and query external tasks",
		RunE:        cli.help,
		Annotations: map[string]string{noEngineRequired: ""},
	}

	c.AddCommand(newExternalTaskCompleteCmd(cli))
	c.AddCommand(newExternalTaskCreateCmd(cli))
	c.AddCommand(newExternalTaskExtendLockCmd(cli))
	c.AddCommand(newExternalTaskFetchAndLockCmd(cli))
	c.AddCommand(newExternalTaskHandleBpmnErrorCmd(cli))
	c.AddCommand(newExternalTaskHandleFailureCmd(cli))
	c.AddCommand(newExternalTaskQueryCmd(cli))
	c.AddCommand(newExternalTaskUnlockCmd(cli))

	return &c
}

func newExternalTaskCompleteCmd(cli *Cli) *cobra.Command {
	var (
		variablesV          map[string]string
		variableTypesV      map[string]string
		localVariablesV     map[string]string
		localVariableTypesV map[string]string

		cmd engine.CompleteCmd
	)

	c := cobra.Command{
		Use:   "complete",
		Short: "Complete an external task",
		RunE: func(c *cobra.Command, _ []string) error {
			variables, err := mapVariables(variablesV, variableTypesV)
			if err != nil {
				return err
			}
			localVariables, err := mapVariables(localVariablesV, localVariableTypesV)
			if err != nil {
				return err
			}

			cmd.Variables = variables
			cmd.LocalVariables = localVariables
			cmd.WorkerId = cli.workerId

			return cli.e.Complete(context.Background(), cmd)
		},
	}

	c.Flags().StringVar(&cmd.Id, "id", "", "External task ID")

	c.Flags().StringToStringVar(&variablesV, "variable", nil, "Variable to set at process instance scope")
	c.Flags().StringToStringVar(&variableTypesV, "variable-type", nil, "Type of a variable - e.g. Long or Json")
	c.Flags().StringToStringVar(&localVariablesV, "local-variable", nil, "Variable to set at the scope of the external task's execution")
	c.Flags().StringToStringVar(&localVariableTypesV, "local-variable-type", nil, "Type of a local variable")

	c.MarkFlagRequired("id")

	return &c
}

func newExternalTaskCreateCmd(cli *Cli) *cobra.Command {
	var (
		retries        retriesValue
		variablesV     map[string]string
		variableTypesV map[string]string

		cmd engine.CreateExternalTaskCmd
	)

	c := cobra.Command{
		Use:   "create",
		Short: "Create an external task",
		RunE: func(c *cobra.Command, _ []string) error {
			variables, err := mapVariables(variablesV, variableTypesV)
			if err != nil {
				return err
			}

			cmd.Retries = retries.retries
			cmd.Variables = variables

			externalTask, err := cli.e.CreateExternalTask(context.Background(), cmd)
			if err != nil {
				return err
			}

			c.Println(externalTask.Id)
			return nil
		},
	}

	c.Flags().StringVar(&cmd.TopicName, "topic", "", "Topic name")

	c.Flags().StringVar(&cmd.ActivityId, "activity-id", "", "ID of the related BPMN activity")
	c.Flags().StringVar(&cmd.BusinessKey, "business-key", "", "Business key of the process instance")
	c.Flags().StringToStringVar(&cmd.ExtensionProperties, "extension-property", nil, "Extension property of the BPMN activity")
	c.Flags().Int64Var(&cmd.Priority, "priority", 0, "Priority")
	c.Flags().StringVar(&cmd.ProcessDefinitionKey, "process-definition-key", "", "Key of the process definition")
	c.Flags().StringVar(&cmd.ProcessInstanceId, "process-instance-id", "", "Process instance ID")
	c.Flags().Var(&retries, "retries", "Initial retries")
	c.Flags().StringVar(&cmd.TenantId, "tenant-id", "", "Tenant ID")
	c.Flags().StringToStringVar(&variablesV, "variable", nil, "Process instance variable")
	c.Flags().StringToStringVar(&variableTypesV, "variable-type", nil, "Type of a variable - e.g. Long or Json")

	c.MarkFlagRequired("topic")

	return &c
}

func newExternalTaskExtendLockCmd(cli *Cli) *cobra.Command {
	var (
		newDuration time.Duration

		cmd engine.ExtendLockCmd
	)

	c := cobra.Command{
		Use:   "extend-lock",
		Short: "Extend the lock of an external task",
		RunE: func(c *cobra.Command, _ []string) error {
			cmd.NewDuration = newDuration.Milliseconds()
			cmd.WorkerId = cli.workerId

			return cli.e.ExtendLock(context.Background(), cmd)
		},
	}

	c.Flags().StringVar(&cmd.Id, "id", "", "External task ID")
	c.Flags().DurationVar(&newDuration, "new-duration", 0, "New lock duration, starting from the engine's time")

	c.MarkFlagRequired("id")
	c.MarkFlagRequired("new-duration")

	return &c
}

func newExternalTaskFetchAndLockCmd(cli *Cli) *cobra.Command {
	var (
		asyncResponseTimeout time.Duration
		lockDuration         time.Duration
		topicNames           []string
		variables            []string

		cmd engine.FetchAndLockCmd
	)

	c := cobra.Command{
		Use:   "fetch-and-lock",
		Short: "Fetch and lock external tasks",
		RunE: func(c *cobra.Command, _ []string) error {
			topics := make([]engine.FetchTopic, len(topicNames))
			for i, topicName := range topicNames {
				topics[i] = engine.FetchTopic{
					LockDuration: lockDuration.Milliseconds(),
					TopicName:    topicName,
					Variables:    variables,
				}
			}

			cmd.AsyncResponseTimeout = asyncResponseTimeout.Milliseconds()
			cmd.Topics = topics
			cmd.WorkerId = cli.workerId

			externalTasks, err := cli.e.FetchAndLock(context.Background(), cmd)
			if err != nil {
				return err
			}

			table := externalTaskTable(externalTasks)
			c.Print(table.format())
			return nil
		},
	}

	c.Flags().StringSliceVar(&topicNames, "topic", nil, "Name of a topic to fetch external tasks for")

	c.Flags().DurationVar(&asyncResponseTimeout, "async-response-timeout", 0, "Time to wait for external tasks, when none is available")
	c.Flags().DurationVar(&lockDuration, "lock-duration", time.Minute, "Lock duration")
	c.Flags().IntVar(&cmd.MaxTasks, "max-tasks", 1, "Maximum number of external tasks to lock")
	c.Flags().BoolVar(&cmd.UsePriority, "use-priority", false, "Fetch external tasks with a higher priority first")
	c.Flags().StringSliceVar(&variables, "variable", nil, "Name of a variable to fetch - by default, all variables are fetched")

	c.MarkFlagRequired("topic")

	return &c
}

func newExternalTaskHandleBpmnErrorCmd(cli *Cli) *cobra.Command {
	var (
		variablesV     map[string]string
		variableTypesV map[string]string

		cmd engine.HandleBpmnErrorCmd
	)

	c := cobra.Command{
		Use:   "handle-bpmn-error",
		Short: "Report a business error for an external task",
		RunE: func(c *cobra.Command, _ []string) error {
			variables, err := mapVariables(variablesV, variableTypesV)
			if err != nil {
				return err
			}

			cmd.Variables = variables
			cmd.WorkerId = cli.workerId

			return cli.e.HandleBpmnError(context.Background(), cmd)
		},
	}

	c.Flags().StringVar(&cmd.Id, "id", "", "External task ID")
	c.Flags().StringVar(&cmd.ErrorCode, "error-code", "", "Code of the BPMN error")

	c.Flags().StringVar(&cmd.ErrorMessage, "error-message", "", "Error message")
	c.Flags().StringToStringVar(&variablesV, "variable", nil, "Variable to set at process instance scope")
	c.Flags().StringToStringVar(&variableTypesV, "variable-type", nil, "Type of a variable - e.g. Long or Json")

	c.MarkFlagRequired("id")
	c.MarkFlagRequired("error-code")

	return &c
}

func newExternalTaskHandleFailureCmd(cli *Cli) *cobra.Command {
	var (
		retries      retriesValue
		retryTimeout time.Duration

		cmd engine.HandleFailureCmd
	)

	c := cobra.Command{
		Use:   "handle-failure",
		Short: "Report a technical failure for an external task",
		RunE: func(c *cobra.Command, _ []string) error {
			cmd.Retries = retries.retries
			cmd.RetryTimeout = retryTimeout.Milliseconds()
			cmd.WorkerId = cli.workerId

			return cli.e.HandleFailure(context.Background(), cmd)
		},
	}

	c.Flags().StringVar(&cmd.Id, "id", "", "External task ID")

	c.Flags().StringVar(&cmd.ErrorDetails, "error-details", "", "Details of the failure - e.g. a stack trace")
	c.Flags().StringVar(&cmd.ErrorMessage, "error-message", "", "Message of the failure")
	c.Flags().Var(&retries, "retries", "Number of remaining retries - if not set, the current retries are kept")
	c.Flags().DurationVar(&retryTimeout, "retry-timeout", 0, "Timeout, before the external task can be fetched again")

	c.MarkFlagRequired("id")

	return &c
}

func newExternalTaskQueryCmd(cli *Cli) *cobra.Command {
	var (
		criteria engine.ExternalTaskCriteria
		options  engine.QueryOptions
	)

	c := cobra.Command{
		Use:   "query",
		Short: "Query external tasks",
		RunE: func(c *cobra.Command, _ []string) error {
			results, err := cli.e.QueryExternalTasks(context.Background(), criteria, options)
			if err != nil {
				return err
			}

			table := externalTaskTable(results)
			c.Print(table.format())
			return nil
		},
	}

	c.Flags().StringVar(&criteria.ExternalTaskId, "id", "", "External task ID")

	c.Flags().StringVar(&criteria.BusinessKey, "business-key", "", "Business key")
	c.Flags().BoolVar(&criteria.Completed, "completed", false, "Query completed external tasks instead")
	c.Flags().BoolVar(&criteria.Locked, "locked", false, "Only external tasks with an active lock")
	c.Flags().StringVar(&criteria.WorkerId, "locked-by", "", "ID of the worker, which holds or held the lock")
	c.Flags().BoolVar(&criteria.NoRetriesLeft, "no-retries-left", false, "Only external tasks without retries left")
	c.Flags().BoolVar(&criteria.NotLocked, "not-locked", false, "Only external tasks without an active lock")
	c.Flags().StringVar(&criteria.ProcessInstanceId, "process-instance-id", "", "Process instance ID")
	c.Flags().StringVar(&criteria.TopicName, "topic", "", "Topic name")
	c.Flags().BoolVar(&criteria.WithRetriesLeft, "with-retries-left", false, "Only external tasks with retries left or no retries set")

	c.Flags().IntVar(&options.Limit, "limit", 100, "")
	c.Flags().IntVar(&options.Offset, "offset", 0, "")

	return &c
}

func newExternalTaskUnlockCmd(cli *Cli) *cobra.Command {
	var cmd engine.UnlockCmd

	c := cobra.Command{
		Use:   "unlock",
		Short: "Unlock an external task",
		RunE: func(c *cobra.Command, _ []string) error {
			return cli.e.Unlock(context.Background(), cmd)
		},
	}

	c.Flags().StringVar(&cmd.Id, "id", "", "External task ID")

	c.MarkFlagRequired("id")

	return &c
}
