package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"chatgogo/matchclient/internal/config"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/storage"
)

const usage = `Usage: admin <command> [args]
  ban <user_id> [duration_in_hours]   ban a user, without duration until unban
  unban <user_id>                     lift a ban
  rooms                               list active rooms
  confirm-complaint <complaint_id>    ban the reported user
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.Log, "admin")
	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("RELAY_POSTGRES_DSN is required")
	}

	s, err := storage.Open(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("storage unavailable")
	}
	err = run(s, os.Stdout, os.Args[1:])
	_ = s.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(s storage.Storage, out io.Writer, args []string) error {
	switch args[0] {
	case "ban":
		if len(args) < 2 {
			return fmt.Errorf("usage: admin ban <user_id> [duration_in_hours]")
		}
		var hours int
		if len(args) > 2 {
			var err error
			hours, err = strconv.Atoi(args[2])
			if err != nil || hours < 0 {
				return fmt.Errorf("invalid duration %q, provide a number of hours", args[2])
			}
		}
		if err := s.BanUser(args[1], time.Duration(hours)*time.Hour); err != nil {
			return fmt.Errorf("ban %s: %w", args[1], err)
		}
		fmt.Fprintf(out, "User %s has been banned.\n", args[1])

	case "unban":
		if len(args) != 2 {
			return fmt.Errorf("usage: admin unban <user_id>")
		}
		if err := s.UnbanUser(args[1]); err != nil {
			return fmt.Errorf("unban %s: %w", args[1], err)
		}
		fmt.Fprintf(out, "User %s has been unbanned.\n", args[1])

	case "rooms":
		return listRooms(s, out)

	case "confirm-complaint":
		if len(args) != 2 {
			return fmt.Errorf("usage: admin confirm-complaint <complaint_id>")
		}
		id, err := strconv.ParseUint(args[1], 10, 0)
		if err != nil {
			return fmt.Errorf("invalid complaint ID %q", args[1])
		}
		target, err := confirmComplaint(s, uint(id))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Complaint %d has been confirmed, user %s banned.\n", id, target)

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
	return nil
}

func listRooms(s storage.Storage, out io.Writer) error {
	rooms, err := s.GetActiveRooms()
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Room", "User 1", "User 2", "Started", "Duration"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, r := range rooms {
		tw.Append([]string{
			r.RoomID,
			r.User1ID,
			r.User2ID,
			r.StartedAt.Format(time.DateTime),
			time.Since(r.StartedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
	fmt.Fprintf(out, "%d active room(s)\n", len(rooms))
	return nil
}

// confirmComplaint bans the reported user for the standard duration.
func confirmComplaint(s storage.Storage, id uint) (string, error) {
	c, err := s.GetComplaintByID(id)
	if err != nil {
		return "", err
	}
	if err := s.BanUser(c.TargetID, config.BanDuration); err != nil {
		return "", fmt.Errorf("ban %s: %w", c.TargetID, err)
	}
	if err := s.UpdateComplaintStatus(id, models.ComplaintBanned); err != nil {
		return "", err
	}
	return c.TargetID, nil
}
