package main

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"text/tabwriter"

	"loom/internal/client"
	"loom/internal/types"
)

func printSessions(output io.Writer, sessions []client.SessionSummary) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tBUSY\tMODIFIED\tSUMMARY")
	for _, session := range sessions {
		busy := "-"
		if session.IsBusy {
			busy = "yes"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", session.SessionID, busy, session.LastModifiedAt, session.Summary)
	}
	_ = writer.Flush()
}

func printWorldlines(output io.Writer, current string, siblings []types.WorldlineSibling) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "SESSION\tPARENT\tBRANCH POINT\tCREATED")
	for _, sibling := range siblings {
		marker := ""
		if sibling.SessionID == current {
			marker = " *"
		}
		parent := sibling.ParentSessionID
		if parent == "" {
			parent = "-"
		}
		branchPoint := sibling.BranchPointMessageUUID
		if branchPoint == "" {
			branchPoint = "-"
		}
		created := "-"
		if !sibling.CreatedAt.IsZero() {
			created = sibling.CreatedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(writer, "%s%s\t%s\t%s\t%s\n", sibling.SessionID, marker, parent, branchPoint, created)
	}
	_ = writer.Flush()
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}

	exe, err := os.Executable()
	if err == nil {
		file, err := os.Open(exe)
		if err == nil {
			defer file.Close()
			hasher := sha256.New()
			if _, err := io.Copy(hasher, file); err == nil {
				sum := hasher.Sum(nil)
				return fmt.Sprintf("bin-%x", sum[:6])
			}
		}
	}
	return "dev"
}
