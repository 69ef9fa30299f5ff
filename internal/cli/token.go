package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/article-archiver/internal/token"
)

var (
	tokenClass   string
	tokenCount   int
	tokenNote    string
	tokenAllUsed bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage single-use authorization tokens.",
	Long: `token operates directly on the token database, without going through
the HTTP API. Tokens come in two classes: "single" authorizes a session
that archives one article, "batch" authorizes walking an account's
article listing. Each token grants exactly one session.`,
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue new authorization tokens.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openTokenStore()
		defer store.Close()

		class, ok := parseTokenClass(tokenClass)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unknown token class %q (want \"single\" or \"batch\")\n", tokenClass)
			os.Exit(1)
		}
		count := tokenCount
		if count <= 0 {
			count = 1
		}

		for i := 0; i < count; i++ {
			tok, err := store.Issue(context.Background(), class, tokenNote)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(tok.ID())
		}
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outstanding tokens.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openTokenStore()
		defer store.Close()

		tokens, err := store.List(context.Background(), tokenAllUsed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCLASS\tISSUED\tCONSUMED\tNOTE")
		for _, tok := range tokens {
			consumed := "-"
			if at := tok.ConsumedAt(); at != nil {
				consumed = at.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				tok.ID(),
				tok.Class(),
				tok.IssuedAt().Format("2006-01-02 15:04:05"),
				consumed,
				tok.Note(),
			)
		}
		w.Flush()
	},
}

var tokenStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-class token counts.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openTokenStore()
		defer store.Close()

		stats, err := store.CollectStats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "CLASS\tISSUED\tCONSUMED\tOUTSTANDING")
		for _, class := range []token.Class{token.ClassSingle, token.ClassBatch} {
			st, ok := stats[class]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", class, st.Issued(), st.Consumed(), st.Outstanding())
		}
		w.Flush()
	},
}

func openTokenStore() *token.Store {
	cfg := InitConfig()
	store, err := token.Open(cfg.DataDir(), token.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return store
}

func parseTokenClass(name string) (token.Class, bool) {
	switch name {
	case "single":
		return token.ClassSingle, true
	case "batch":
		return token.ClassBatch, true
	default:
		return "", false
	}
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenClass, "class", "single", `token class: "single" or "batch"`)
	tokenIssueCmd.Flags().IntVar(&tokenCount, "count", 1, "number of tokens to issue")
	tokenIssueCmd.Flags().StringVar(&tokenNote, "note", "", "free-form note recorded with each token")
	tokenListCmd.Flags().BoolVar(&tokenAllUsed, "include-used", false, "include consumed tokens in the listing")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenStatsCmd)
	rootCmd.AddCommand(tokenCmd)
}
