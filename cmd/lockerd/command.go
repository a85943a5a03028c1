package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mredag/eformLockerRoom-sub013/internal/commands"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
	"github.com/mredag/eformLockerRoom-sub013/internal/ui"
)

var commandCmd = &cobra.Command{
	Use:     "command",
	Short:   "Dispatch and complete locker commands",
	GroupID: "commands",
}

var commandDispatchCmd = &cobra.Command{
	Use:   "dispatch <kiosk-id> <type> <locker-id>...",
	Short: "Admit and queue a command for one or more lockers",
	Example: `  lockerd command dispatch kiosk-1 open 7 --staff alice
  lockerd command dispatch kiosk-1 reset 1 2 3 --reason "end of day"`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int, 0, len(args)-2)
		for _, a := range args[2:] {
			id, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("locker id %q is not an integer", a)
			}
			ids = append(ids, id)
		}
		staff, _ := cmd.Flags().GetString("staff")
		reason, _ := cmd.Flags().GetString("reason")

		ctx := context.Background()
		var (
			c   *model.Command
			err error
		)
		if len(ids) == 1 {
			c, err = lockerClient.Dispatch(ctx, commands.Request{
				KioskID: args[0], Type: model.CommandType(args[1]), LockerID: ids[0], StaffUser: staff, Reason: reason,
			})
		} else {
			c, err = lockerClient.DispatchBulk(ctx, commands.BulkRequest{
				KioskID: args[0], Type: model.CommandType(args[1]), LockerIDs: ids, StaffUser: staff, Reason: reason,
			})
		}
		if err != nil {
			return fmt.Errorf("dispatching command: %w", err)
		}
		if jsonOutput {
			return printJSON(c)
		}
		printCommand(c)
		return nil
	},
}

var commandCompleteCmd = &cobra.Command{
	Use:   "complete <command-id>",
	Short: "Report a command's outcome and release its locks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed, _ := cmd.Flags().GetString("failed")
		message, _ := cmd.Flags().GetString("message")
		res := commands.Result{Success: failed == "", Message: message, Error: failed}

		ev, err := lockerClient.Complete(context.Background(), args[0], res)
		if err != nil {
			return fmt.Errorf("completing command: %w", err)
		}
		if jsonOutput {
			return printJSON(ev)
		}
		outcome := ui.RenderStatus("ok")
		if failed != "" {
			outcome = ui.RenderStatus("failed")
		}
		fmt.Printf("Command %s %s; emitted %s\n", args[0], outcome, ev.ID)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:     "lock <kiosk-id> <locker-id>",
	Short:   "Show the admission lock on a locker",
	GroupID: "commands",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("locker id %q is not an integer", args[1])
		}
		info, err := lockerClient.LockInfo(context.Background(), args[0], id)
		if err != nil {
			return fmt.Errorf("fetching lock: %w", err)
		}
		if jsonOutput {
			return printJSON(info)
		}
		if !info.Locked {
			fmt.Printf("%s: unlocked\n", info.Key)
			return nil
		}
		fmt.Printf("%s: locked since %s, expires %s\n", info.Key,
			info.AcquiredAt.Local().Format("15:04:05"), info.ExpiresAt.Local().Format("15:04:05"))
		return nil
	},
}

func init() {
	commandDispatchCmd.Flags().String("staff", "", "staff user issuing the command")
	commandDispatchCmd.Flags().String("reason", "", "free-text reason")
	commandCompleteCmd.Flags().String("failed", "", "mark the command failed with this error")
	commandCompleteCmd.Flags().String("message", "", "result message")

	commandCmd.AddCommand(commandDispatchCmd)
	commandCmd.AddCommand(commandCompleteCmd)
}
