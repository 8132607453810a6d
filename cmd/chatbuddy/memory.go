package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/avvvet/chatbuddy/internal/config"
	"github.com/avvvet/chatbuddy/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or clear conversation memory",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics per conversation",
	RunE:  runMemoryStats,
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear conversation contexts, or all memory with --all",
	RunE:  runMemoryClear,
}

var memoryLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the recent event log of one conversation",
	RunE:  runMemoryLog,
}

var (
	clearKeys []string
	clearAll  bool
	logKey    string
	logLimit  int
)

func init() {
	memoryClearCmd.Flags().StringSliceVarP(&clearKeys, "key", "k", nil, "Conversation key to clear (repeatable)")
	memoryClearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every conversation and wipe the event log and the semantic index")
	memoryLogCmd.Flags().StringVarP(&logKey, "key", "k", "", "Conversation key")
	memoryLogCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "Number of entries to print")
	_ = memoryLogCmd.MarkFlagRequired("key")
	memoryCmd.AddCommand(memoryStatsCmd, memoryClearCmd, memoryLogCmd)
}

func withMemory(fn func(ctx context.Context, cfg *config.Config, m *memory.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog := config.SetupLogger("", config.ParseLevel(cfg.Logging.Level))
	defer closeLog()

	mem, err := openMemory(cfg, logger)
	if err != nil {
		return err
	}
	defer mem.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx, cfg, mem.manager)
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	return withMemory(func(ctx context.Context, _ *config.Config, m *memory.Manager) error {
		st, err := m.Stats(ctx)
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), st)
		return nil
	})
}

func printStats(w io.Writer, st *memory.Stats) {
	fmt.Fprintf(w, "Cached contexts: %d/%d\n", st.CachedConversations, st.CacheCapacity)
	if st.SemanticEnabled {
		fmt.Fprintf(w, "Semantic entries: %d\n", st.SemanticEntries)
	} else {
		fmt.Fprintln(w, "Semantic memory: off")
	}
	fmt.Fprintf(w, "Conversations: %d\n", len(st.Conversations))
	for _, c := range st.Conversations {
		fmt.Fprintf(w, "  %s  user=%d bot=%d  last=%s\n",
			c.ConversationKey, c.UserMessages, c.BotMessages, c.LastAt.Local().Format(time.DateTime))
	}
}

func runMemoryClear(cmd *cobra.Command, args []string) error {
	return withMemory(func(ctx context.Context, cfg *config.Config, m *memory.Manager) error {
		return clearMemory(ctx, cmd.OutOrStdout(), m, clearKeys, clearAll)
	})
}

func clearMemory(ctx context.Context, w io.Writer, m *memory.Manager, keys []string, all bool) error {
	if all {
		cleared, err := m.Reset(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Wiped all memory (%d contexts cleared)\n", cleared)
		return nil
	}
	if len(keys) == 0 {
		return fmt.Errorf("no conversation given: use --key or --all")
	}
	for _, key := range keys {
		if err := m.ClearConversation(ctx, key); err != nil {
			return err
		}
		fmt.Fprintf(w, "Cleared %s\n", key)
	}
	return nil
}

func runMemoryLog(cmd *cobra.Command, args []string) error {
	return withMemory(func(ctx context.Context, _ *config.Config, m *memory.Manager) error {
		return printTranscript(ctx, cmd.OutOrStdout(), m, logKey, logLimit)
	})
}

func printTranscript(ctx context.Context, w io.Writer, m *memory.Manager, key string, limit int) error {
	entries, err := m.Transcript(ctx, key, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "No messages logged for %s\n", key)
		return nil
	}
	for _, e := range entries {
		who := e.SenderName
		if e.IsBot {
			who += " (bot)"
		}
		fmt.Fprintf(w, "%s  %s: %s\n", e.Timestamp.Local().Format(time.DateTime), who, e.Content)
	}
	return nil
}
