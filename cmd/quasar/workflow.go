package main

import (
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/spf13/cobra"

	"github.com/oriys/quasar/internal/workflow"
)

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Start and control state machine executions",
	}
	cmd.AddCommand(workflowStartCmd(), workflowStopCmd(), workflowListCmd())
	return cmd
}

func workflowClient(cmd *cobra.Command) (*workflow.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return workflow.NewClient(awsCfg), nil
}

func workflowStartCmd() *cobra.Command {
	var name, org, data string

	cmd := &cobra.Command{
		Use:   "start <state-machine-arn>",
		Short: "Start a state machine execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := workflowClient(cmd)
			if err != nil {
				return err
			}

			var body json.RawMessage
			if data != "" {
				body = json.RawMessage(data)
			}

			out, err := client.StartExecution(cmd.Context(), args[0], name, org, body)
			if err != nil {
				return err
			}
			fmt.Println("started:", *out.ExecutionArn)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "execution name")
	cmd.Flags().StringVar(&org, "org", "", "organization code for the step sessions")
	cmd.Flags().StringVar(&data, "data", "", "JSON input body")
	return cmd
}

func workflowStopCmd() *cobra.Command {
	var cause, errCode string

	cmd := &cobra.Command{
		Use:   "stop <execution-arn>",
		Short: "Stop a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := workflowClient(cmd)
			if err != nil {
				return err
			}
			_, err = client.StopExecution(cmd.Context(), args[0], &workflow.StopOptions{
				Cause: cause,
				Error: errCode,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&cause, "cause", "", "stop cause")
	cmd.Flags().StringVar(&errCode, "error", "", "stop error code")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var status string
	var limit int32

	cmd := &cobra.Command{
		Use:   "list <state-machine-arn>",
		Short: "List a state machine's executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := workflowClient(cmd)
			if err != nil {
				return err
			}
			out, err := client.ListExecutions(cmd.Context(), args[0], &workflow.ListOptions{
				StatusFilter: types.ExecutionStatus(status),
				MaxResults:   limit,
			})
			if err != nil {
				return err
			}
			for _, ex := range out.Executions {
				fmt.Printf("%s\t%s\t%s\n", *ex.ExecutionArn, ex.Status, ex.StartDate.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by execution status")
	cmd.Flags().Int32Var(&limit, "limit", 0, "max results")
	return cmd
}
