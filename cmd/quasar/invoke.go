package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/quasar/internal/session"
	"github.com/oriys/quasar/internal/transport"
)

func invokeCmd() *cobra.Command {
	var bodies []string

	cmd := &cobra.Command{
		Use:   "invoke <function>",
		Short: "Invoke a function fire-and-forget, once per body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, shutdown, err := buildGateway(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			payloads, err := parseBodies(bodies)
			if err != nil {
				return err
			}

			results, err := inv.Call(cmd.Context(), args[0], payloads...)
			printResults(results)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&bodies, "body", nil, "JSON body (repeatable for fan-out)")
	return cmd
}

func invokeOrgCmd() *cobra.Command {
	var orgs []string
	var bodies []string

	cmd := &cobra.Command{
		Use:   "invoke-org <function>",
		Short: "Invoke a function once per (organization, body) pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, shutdown, err := buildGateway(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			payloads, err := parseBodies(bodies)
			if err != nil {
				return err
			}

			results, err := inv.OrganizationCall(cmd.Context(), args[0], session.ForOrganizations(orgs...), payloads)
			printResults(results)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&orgs, "org", nil, "organization code (repeatable)")
	cmd.Flags().StringArrayVar(&bodies, "body", nil, "JSON body (repeatable)")
	return cmd
}

func invokeServiceCmd() *cobra.Command {
	var body string
	var org string
	var safe bool

	cmd := &cobra.Command{
		Use:   "invoke-service <owner-org> <function>",
		Short: "Invoke a function owned by another organization, request-response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, shutdown, err := buildGateway(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			var payload any
			if body != "" {
				payload = json.RawMessage(body)
			}
			var sess *session.Session
			if org != "" {
				s := session.New(org)
				sess = &s
			}

			var resp *transport.Response
			if safe {
				resp, err = inv.CrossServiceSafeCall(cmd.Context(), args[0], args[1], payload, sess)
			} else {
				resp, err = inv.CrossServiceCall(cmd.Context(), args[0], args[1], payload, sess)
			}
			if resp != nil {
				printResults([]*transport.Response{resp})
			}
			return err
		},
	}

	cmd.Flags().StringVar(&body, "body", "", "JSON body")
	cmd.Flags().StringVar(&org, "session-org", "", "acting organization code for the session")
	cmd.Flags().BoolVar(&safe, "safe", false, "return remote failure statuses instead of failing")
	return cmd
}

func parseBodies(raw []string) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	bodies := make([]any, len(raw))
	for i, r := range raw {
		if !json.Valid([]byte(r)) {
			return nil, fmt.Errorf("body %d is not valid JSON", i+1)
		}
		bodies[i] = json.RawMessage(r)
	}
	return bodies, nil
}

func printResults(results []*transport.Response) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, r := range results {
		if r == nil {
			continue
		}
		_ = enc.Encode(r)
	}
}
