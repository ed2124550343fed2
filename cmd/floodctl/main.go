// Command floodctl inspects and steers a running floodsim through its API.
//
//	floodctl status
//	floodctl watch -every 30s
//	floodctl shock
//	floodctl speed 5
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/floodsim/internal/monitor"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	apiURL := flag.String("api", envOrDefault("FLOODSIM_API_URL", "http://localhost:8080"), "floodsim API base URL")
	adminKey := flag.String("key", os.Getenv("FLOODSIM_ADMIN_KEY"), "Admin bearer token for shock and speed")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: floodctl [flags] status|watch|shock|speed <n>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *apiURL, *adminKey, flag.Args()); err != nil {
		slog.Error("floodctl failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, apiURL, adminKey string, args []string) error {
	observer := monitor.NewObserver(apiURL)

	switch args[0] {
	case "status":
		return printObservation(ctx, observer)

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		every := fs.Duration("every", 30*time.Second, "Observation interval")
		wait := fs.Duration("wait", 5*time.Minute, "How long to wait for the API to come up")
		_ = fs.Parse(args[1:])
		return watch(ctx, observer, *every, *wait)

	case "shock":
		if adminKey == "" {
			return errors.New("admin key required (-key or FLOODSIM_ADMIN_KEY)")
		}
		if err := monitor.NewActor(apiURL, adminKey).RequestShock(ctx); err != nil {
			return err
		}
		fmt.Println("Flood shock requested; it applies at the end of the next round.")
		return nil

	case "speed":
		if adminKey == "" {
			return errors.New("admin key required (-key or FLOODSIM_ADMIN_KEY)")
		}
		if len(args) < 2 {
			return errors.New("usage: floodctl speed <multiplier>")
		}
		speed, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("parse speed: %w", err)
		}
		applied, err := monitor.NewActor(apiURL, adminKey).SetSpeed(ctx, speed)
		if err != nil {
			return err
		}
		fmt.Printf("Speed set to %gx\n", applied)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// watch observes on an interval until interrupted.
func watch(ctx context.Context, observer *monitor.Observer, every, wait time.Duration) error {
	slog.Info("waiting for floodsim API...")
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	err := observer.WaitForAPI(waitCtx, 2*time.Second, 30*time.Second)
	cancel()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := printObservation(ctx, observer); err != nil {
			slog.Error("observation failed", "error", err)
		}
		select {
		case <-ctx.Done():
			fmt.Println("floodctl stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

func printObservation(ctx context.Context, observer *monitor.Observer) error {
	obs, err := observer.Observe(ctx)
	if err != nil {
		return err
	}
	h := monitor.Triage(obs)

	st := obs.Status
	if st.Tick == nil {
		fmt.Printf("run %s: %d households, no round completed yet\n", st.RunID, st.Households)
		return nil
	}
	fmt.Printf("run %s  tick %d  [%s]\n", st.RunID, *st.Tick, h.Level)
	fmt.Printf("  adapted      %d/%d (%.1f%%)\n", st.Households-h.Unadapted, st.Households, 100*h.AdaptedShare)
	fmt.Printf("  budget left  %s (%s payments)\n", humanize.Commaf(h.BudgetRemaining), humanize.Comma(int64(h.PaymentsLeft)))
	if obs.Government != nil {
		fmt.Printf("  disbursed    %s to %d households\n", humanize.Commaf(obs.Government.TotalDisbursed), obs.Government.TotalAided)
	}
	if len(obs.History) > 0 {
		fmt.Printf("  aided/pass   %.1f over %d recorded ticks\n", h.AvgAidedPerPass, len(obs.History))
	}
	if obs.Stats != nil && obs.Stats.Shocked {
		fmt.Println("  flood shock applied this round")
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
