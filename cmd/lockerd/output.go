package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printEventTable(events []*model.Event) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAMESPACE\tROOM\tTIMESTAMP")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Type,
			e.Namespace,
			e.Room,
			e.Timestamp.Local().Format(time.DateTime),
		)
	}
	w.Flush()
	fmt.Printf("\n%d events\n", len(events))
}

func printCommand(c *model.Command) {
	fmt.Printf("ID:       %s\n", c.ID)
	fmt.Printf("Kiosk:    %s\n", c.KioskID)
	fmt.Printf("Type:     %s\n", c.Type)
	fmt.Printf("Lockers:  %v\n", c.Payload.LockerIDs)
	fmt.Printf("Status:   %s\n", c.Status)
	if c.Error != "" {
		fmt.Printf("Error:    %s\n", c.Error)
	}
	if c.Payload.StaffUser != "" {
		fmt.Printf("Staff:    %s\n", c.Payload.StaffUser)
	}
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
