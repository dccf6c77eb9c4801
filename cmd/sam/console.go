package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/liao/mall-concierge/internal/ai"
	"github.com/liao/mall-concierge/internal/assistant"
	"github.com/liao/mall-concierge/internal/bot"
	"github.com/liao/mall-concierge/internal/rag"
)

// runConsole 在终端里和 Sam 对话，整个进程共用一个 thread
func runConsole(ctx context.Context, sam *assistant.Assistant, in io.Reader, out io.Writer) error {
	threadID := "console:" + uuid.NewString()
	fmt.Fprintf(out, "Sam is ready (thread %s). Commands: /history, /ingest <path>, /quit\n", threadID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/history":
			msgs, err := sam.History(ctx, threadID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, bot.FormatHistory(msgs, 0))
		case strings.HasPrefix(line, "/ingest "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/ingest "))
			n, err := sam.Ingest(ctx, path, rag.FormatAuto)
			if err != nil {
				fmt.Fprintf(out, "ingest failed: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "indexed %d shops\n", n)
		default:
			reply, err := sam.ProcessUserQuery(ctx, line, threadID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, ai.FormatReplyForChat(reply.Response))
		}
	}
}
