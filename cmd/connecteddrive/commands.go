package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-connecteddrive/connecteddrive"
)

const statusConcurrency = 4

var (
	vehiclesAs  string
	getQuery    string
	execPayload string
	execWait    bool
	execTimeout time.Duration
	statusAll   bool
	statusQuery string
)

func init() {
	vehiclesCmd.Flags().StringVar(&vehiclesAs, "as", "multi", "output as one array (multi) or one document per vehicle (single)")
	getCmd.Flags().StringVar(&getQuery, "query", "", "JMESPath expression applied to the result")
	execCmd.Flags().StringVar(&execPayload, "payload", "", "JSON payload for services that take one")
	execCmd.Flags().BoolVar(&execWait, "wait", false, "poll until the command has finished")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 2*time.Minute, "how long --wait polls")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "fetch the state of every vehicle on the account")
	statusCmd.Flags().StringVar(&statusQuery, "query", "", "JMESPath expression applied to each state")

	rootCmd.AddCommand(tokenCmd, vehiclesCmd, getCmd, execCmd, statusCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Log in or refresh so a valid token is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.client.RequestNewToken(ctx); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"state":    a.session.State(),
				"expireAt": a.session.ExpireAt().Format(time.RFC3339),
			})
		})
	},
}

var vehiclesCmd = &cobra.Command{
	Use:   "vehicles",
	Short: "List the vehicles of the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if vehiclesAs != "multi" && vehiclesAs != "single" {
			return fmt.Errorf("--as must be multi or single: %w", connecteddrive.ErrInvalidArgument)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			vehicles, err := a.client.GetCarList(ctx)
			if err != nil {
				return err
			}
			if vehiclesAs == "multi" {
				return printJSON(cmd, vehicles)
			}
			for _, v := range vehicles {
				if err := printJSON(cmd, v); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <vin> <type>",
	Short: "Fetch vehicle data (" + strings.Join(connecteddrive.DataTypeNames(), ", ") + ")",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			data, err := a.client.GetCarInfo(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			selected, err := connecteddrive.Select(data, getQuery)
			if err != nil {
				return err
			}
			return printJSON(cmd, selected)
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <vin> <service>",
	Short: "Run a remote service (" + strings.Join(connecteddrive.RemoteServiceCodes(), ", ") + ")",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload any
		if execPayload != "" {
			if err := json.Unmarshal([]byte(execPayload), &payload); err != nil {
				return fmt.Errorf("--payload: %w: %v", connecteddrive.ErrInvalidArgument, err)
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.client.ExecuteRemoteService(ctx, args[0], args[1], payload)
			if err != nil {
				return err
			}
			if !execWait || res.EventID == "" {
				return printJSON(cmd, map[string]any{"eventId": res.EventID, "response": res.Body})
			}
			waitCtx, cancel := context.WithTimeout(ctx, execTimeout)
			defer cancel()
			status, err := a.client.WaitForRemoteService(waitCtx, res.EventID, 5*time.Second)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"eventId": res.EventID, "status": status.Status, "response": status.Body})
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [vin]",
	Short: "Fetch the current state of one vehicle or, with --all, of every vehicle",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusAll == (len(args) == 1) {
			return fmt.Errorf("give either a vin or --all: %w", connecteddrive.ErrInvalidArgument)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			vins := args
			if statusAll {
				vehicles, err := a.client.GetCarList(ctx)
				if err != nil {
					return err
				}
				vins = make([]string, 0, len(vehicles))
				for _, v := range vehicles {
					vins = append(vins, v.VIN)
				}
			}
			states, err := fetchStates(ctx, a.client, vins)
			if err != nil {
				return err
			}
			if !statusAll {
				return printJSON(cmd, states[args[0]])
			}
			return printJSON(cmd, states)
		})
	},
}

// fetchStates loads the state of every vin concurrently.
func fetchStates(ctx context.Context, client *connecteddrive.Client, vins []string) (map[string]any, error) {
	var mu sync.Mutex
	states := make(map[string]any, len(vins))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for _, vin := range vins {
		vin := vin
		g.Go(func() error {
			state, err := client.GetCarInfo(ctx, vin, connecteddrive.DataState)
			if err != nil {
				return fmt.Errorf("%s: %w", vin, err)
			}
			selected, err := connecteddrive.Select(state, statusQuery)
			if err != nil {
				return err
			}
			mu.Lock()
			states[vin] = selected
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}
