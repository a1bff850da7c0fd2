package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/internal/bot"
	"github.com/freeeve/world-conflict/pkg/conflict"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var (
		slotCfg  string
		players  int
		mapSize  string
		numGames int
		workers  int
		maxTurns int
		seed     uint64
		check    bool
		jsonOut  bool
		quiet    bool
	)

	flag.StringVar(&slotCfg, "p", "*=easy", "Slot config (e.g. 0=easy,*=random)")
	flag.IntVar(&players, "players", 4, "Players per game")
	flag.StringVar(&mapSize, "map", "medium", "Map size (small, medium, large)")
	flag.IntVar(&numGames, "n", 1, "Number of games to run")
	flag.IntVar(&workers, "workers", 1, "Concurrency (parallel games)")
	flag.IntVar(&maxTurns, "max-turns", 100, "Turn limit before the game is scored (0 = none)")
	flag.Uint64Var(&seed, "seed", 0, "Base seed (0 = random)")
	flag.BoolVar(&check, "check", false, "Validate state invariants after every command")
	flag.BoolVar(&jsonOut, "json", false, "Output results as JSON")
	flag.BoolVar(&quiet, "q", false, "Only log warnings and errors")

	flag.Parse()

	if quiet {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	if players < conflict.MinPlayers || players > conflict.MaxPlayers {
		log.Fatal().Int("players", players).Msgf("players must be %d to %d", conflict.MinPlayers, conflict.MaxPlayers)
	}
	size, err := conflict.ParseMapSize(mapSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid map size")
	}
	slots, err := bot.ParseSlotConfig(slotCfg, players)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid slot config")
	}
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	// Run games
	results := make([]*bot.ArenaResult, numGames)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	errCount := 0

	for i := 0; i < numGames; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			gameSeed := seed
			if seed != 0 {
				gameSeed = seed + uint64(idx)
			}

			cfg := bot.ArenaConfig{
				GameName:        fmt.Sprintf("botmatch-%d", idx+1),
				Players:         players,
				SlotConfig:      slots,
				MapSize:         size,
				MaxTurns:        maxTurns,
				Seed:            gameSeed,
				CheckInvariants: check,
			}

			result, err := bot.RunGame(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Int("game", idx+1).Msg("Game failed")
				mu.Lock()
				errCount++
				mu.Unlock()
				return
			}

			mu.Lock()
			results[idx] = result
			mu.Unlock()
		}(i)
	}

	wg.Wait()

	if jsonOut {
		printJSON(results, numGames, errCount)
	} else {
		printSummary(results, slots, players, errCount)
	}
	if errCount > 0 {
		os.Exit(1)
	}
}

func printSummary(results []*bot.ArenaResult, slots map[int]string, players, errCount int) {
	type stats struct {
		wins    int
		draws   int
		alive   int
		regions int
		games   int
	}

	bySlot := make([]stats, players)
	completed, turns, battles := 0, 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		completed++
		turns += r.Turns
		battles += r.Battles
		for slot := range bySlot {
			s := &bySlot[slot]
			s.games++
			s.regions += r.RegionCounts[slot]
			switch {
			case r.Winner == slot:
				s.wins++
			case r.Winner == conflict.Neutral:
				s.draws++
			case r.RegionCounts[slot] > 0:
				s.alive++
			}
		}
	}

	fmt.Printf("\nResults (%d games):\n", completed)
	if errCount > 0 {
		fmt.Printf("  (%d games failed)\n", errCount)
	}
	for slot, s := range bySlot {
		avg := 0.0
		if s.games > 0 {
			avg = float64(s.regions) / float64(s.games)
		}
		fmt.Printf("  slot %d (%-6s):  %d wins, %d draws, %d survived  -- avg regions: %.1f\n",
			slot, slots[slot], s.wins, s.draws, s.alive, avg)
	}
	if completed > 0 {
		fmt.Printf("  avg turns: %.1f, avg battles: %.1f\n",
			float64(turns)/float64(completed), float64(battles)/float64(completed))
	}
}

func printJSON(results []*bot.ArenaResult, total, errCount int) {
	type game struct {
		GameID       string      `json:"game_id"`
		Seed         uint64      `json:"seed"`
		Winner       int         `json:"winner"`
		Turns        int         `json:"turns"`
		Commands     int         `json:"commands"`
		Battles      int         `json:"battles"`
		RegionCounts map[int]int `json:"region_counts"`
	}
	out := struct {
		Total   int    `json:"total"`
		Errors  int    `json:"errors"`
		Results []game `json:"results"`
	}{Total: total, Errors: errCount, Results: []game{}}
	for _, r := range results {
		if r == nil {
			continue
		}
		out.Results = append(out.Results, game{
			GameID: r.GameID, Seed: r.Seed, Winner: r.Winner, Turns: r.Turns,
			Commands: r.Commands, Battles: r.Battles, RegionCounts: r.RegionCounts,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
