package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"cineshelf/config"
	"cineshelf/favorites"
	"cineshelf/loader"
	"cineshelf/locator"
	"cineshelf/logging"
	"cineshelf/scheduler"
	"cineshelf/scraper"
	"cineshelf/state"
	"cineshelf/storage"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// the CLI drives a single list
const mainSlot = 0

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "cineshelf",
	Short:         "Browse TMDB movie lists and keep a local shelf of favorites",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var browseCmd = &cobra.Command{
	Use:   "browse [popular|top-rated|favorites]",
	Short: "Show a movie list",
	Long: `Show one of the movie lists. Without an argument the list shown last
time is shown again; on first use the popular list is shown, or the
favorites when TMDB cannot be reached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBrowse,
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite",
	Short: "Manage the local favorites shelf",
}

var favoriteAddCmd = &cobra.Command{
	Use:   "add <movie-id>",
	Short: "Download a movie with its trailers and reviews and store it",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavoriteAdd,
}

var favoriteRemoveCmd = &cobra.Command{
	Use:   "remove <movie-id>",
	Short: "Remove a movie and its trailers and reviews",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavoriteRemove,
}

var favoriteShowCmd = &cobra.Command{
	Use:   "show <movie-id>",
	Short: "Show a stored favorite",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavoriteShow,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-download trailers and reviews of every favorite once",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh favorites on the configured schedule until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runScheduler,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./config.yaml or the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	favoriteCmd.AddCommand(favoriteAddCmd)
	favoriteCmd.AddCommand(favoriteRemoveCmd)
	favoriteCmd.AddCommand(favoriteShowCmd)

	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// resolveTarget maps a list name to a loader target. Anything else is taken
// as a raw URL or content locator.
func resolveTarget(name string, endpoints scraper.Endpoints) string {
	switch name {
	case "popular":
		return endpoints.Popular()
	case "top-rated":
		return endpoints.TopRated()
	case "favorites":
		return locator.Favorites().String()
	}
	return name
}

func validListName(name string) bool {
	switch name {
	case "popular", "top-rated", "favorites":
		return true
	}
	return false
}

func runBrowse(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := state.Open(cfg.DataPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var name string
	if len(args) == 1 {
		if !validListName(args[0]) {
			return fmt.Errorf("unknown list %q: want popular, top-rated or favorites", args[0])
		}
		name = args[0]
	} else {
		saved, _ := st.Load(mainSlot)
		online := saved != "" || a.scraper.Reachable(cmd.Context(), a.endpoints.Popular())
		name = state.InitialTarget(saved, online, "popular")
	}
	target := resolveTarget(name, a.endpoints)

	queue := loader.NewQueue()
	l := a.newLoader(queue)
	defer l.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var movies []storage.Movie
	l.Start(mainSlot, loader.Request{Target: target}, func(m []storage.Movie) {
		movies = m
		cancel()
	})
	_ = queue.Run(ctx)
	if err := cmd.Context().Err(); err != nil {
		return err
	}

	// the list name is saved rather than the URL so a changed API key applies
	if err := st.Save(mainSlot, name); err != nil {
		logger.Warn("failed to save browse state", zap.Error(err))
	}

	printMovies(cmd.OutOrStdout(), a.endpoints.Label(target), movies)
	return nil
}

func printMovies(out io.Writer, label string, movies []storage.Movie) {
	fmt.Fprintf(out, "%s\n\n", label)
	if len(movies) == 0 {
		fmt.Fprintln(out, "No movies to show.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tRELEASED\tRATING\t")
	for _, m := range movies {
		mark := ""
		if m.IsFavorite {
			mark = " *"
		}
		fmt.Fprintf(w, "%d\t%s%s\t%s\t%.1f\t\n", m.MovieID, m.Title, mark, m.ReleaseDate, m.VoteAverage)
	}
	w.Flush()
}

func parseMovieID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid movie id %q", arg)
	}
	return id, nil
}

func runFavoriteAdd(cmd *cobra.Command, args []string) error {
	id, err := parseMovieID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	exists, err := a.favorites.IsFavorite(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		fmt.Fprintf(cmd.OutOrStdout(), "Movie %d is already a favorite\n", id)
		return nil
	}

	detail, err := a.favorites.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to download movie %d: %w", id, err)
	}
	loc, err := a.favorites.Add(ctx, detail.Movie, detail.Trailers, detail.Reviews)
	if err != nil {
		return err
	}
	logger.Debug("favorite stored", zap.Stringer("locator", loc))
	fmt.Fprintf(cmd.OutOrStdout(), "Added %q with %d trailers and %d reviews\n",
		detail.Movie.Title, len(detail.Trailers), len(detail.Reviews))
	return nil
}

func runFavoriteRemove(cmd *cobra.Command, args []string) error {
	id, err := parseMovieID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.favorites.Remove(cmd.Context(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("movie %d: %w", id, favorites.ErrNotFavorite)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed movie %d\n", id)
	return nil
}

func runFavoriteShow(cmd *cobra.Command, args []string) error {
	id, err := parseMovieID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	detail, err := a.favorites.Detail(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	m := detail.Movie
	fmt.Fprintf(out, "%s (%s)  %.1f\n", m.Title, m.ReleaseDate, m.VoteAverage)
	if poster := a.posterURL(m); poster != "" {
		fmt.Fprintf(out, "Poster: %s\n", poster)
	}
	if m.Overview != "" {
		fmt.Fprintf(out, "\n%s\n", m.Overview)
	}

	fmt.Fprintf(out, "\nTrailers (%d)\n", len(detail.Trailers))
	for _, t := range detail.Trailers {
		fmt.Fprintf(out, "  %s  https://www.youtube.com/watch?v=%s\n", t.Name, t.Key)
	}
	fmt.Fprintf(out, "\nReviews (%d)\n", len(detail.Reviews))
	for _, r := range detail.Reviews {
		fmt.Fprintf(out, "  %s: %s\n", r.Author, r.Content)
	}
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	job := a.refreshJob()
	if err := job.Run(cmd.Context()); err != nil {
		return fmt.Errorf("error running job: %w", err)
	}
	return displayDatabaseStats(cmd.Context(), cmd.OutOrStdout(), a.store)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.NewScheduler(logger)
	job := a.refreshJob()
	if err := sched.AddJob(cfg.Refresh.Schedule, job); err != nil {
		return fmt.Errorf("failed to schedule favorites refresh: %w", err)
	}

	sched.Start()
	defer sched.Stop()
	logger.Info("scheduler started", zap.String("schedule", cfg.Refresh.Schedule))

	ctx := cmd.Context()
	if cfg.Refresh.RunAtStartup {
		logger.Info("running initial favorites refresh at startup")
		if err := sched.RunJobNow(ctx, job.Name()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("error running initial job", zap.Error(err))
		}
	}

	if err := displayDatabaseStats(cmd.Context(), cmd.OutOrStdout(), a.store); err != nil {
		logger.Warn("error getting database stats", zap.Error(err))
	}

	logger.Info("application running, press Ctrl+C to exit")
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return displayDatabaseStats(cmd.Context(), cmd.OutOrStdout(), a.store)
}

func displayDatabaseStats(ctx context.Context, out io.Writer, store *storage.SQLiteStorage) error {
	stats, err := store.GetStats()
	if err != nil {
		return fmt.Errorf("error getting database stats: %w", err)
	}
	version, err := store.GetDatabaseVersion(ctx)
	if err != nil {
		return fmt.Errorf("error getting database version: %w", err)
	}

	fmt.Fprintln(out, "Database Statistics")
	fmt.Fprintf(out, "Schema version: %d\n", version)
	fmt.Fprintf(out, "Favorites: %d\n", stats["favorites"])
	fmt.Fprintf(out, "Movies: %d\n", stats["movies"])
	fmt.Fprintf(out, "Trailers: %d\n", stats["trailers"])
	fmt.Fprintf(out, "Reviews: %d\n", stats["reviews"])
	return nil
}
